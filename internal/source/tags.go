package source

// tagToID maps source-site tag labels onto internal tag IDs. Labels not in
// this table are dropped during extraction rather than creating new tags.
var tagToID = map[string]int{
	"Truyện Màu":    1,
	"Manhwa":        2,
	"Manhua":        3,
	"Manga":         4,
	"Doujinshi":     5,
	"Oneshot":       6,
	"Series":        7,
	"Full Màu":      8,
	"Không Che":     9,
	"Che Ít":        10,
	"3D Hentai":     11,
	"Học Sinh":      12,
	"Giáo Viên":     13,
	"Văn Phòng":     14,
	"Người Hầu":     15,
	"Y Tá":          16,
	"Harem":         17,
	"Netorare":      18,
	"Netori":        19,
	"Romance":       20,
	"Drama":         21,
	"Comedy":        22,
	"Fantasy":       23,
	"Isekai":        24,
	"Supernatural":  25,
	"Yandere":       26,
	"Tsundere":      27,
	"Milf":          28,
	"Loli":          29,
	"Gyaru":         30,
	"Ahegao":        31,
	"BDSM":          32,
	"Mind Control":  33,
	"Mind Break":    34,
	"Swinging":      35,
	"Group":         36,
	"Yuri":          37,
	"Yaoi":          38,
	"Gender Bender": 39,
	"Monster Girl":  40,
	"Elf":           41,
	"Big Breast":    42,
	"Ngực Nhỏ":      43,
	"Chị Gái":       44,
	"Em Gái":        45,
	"Hàng Xóm":      46,
	"Vợ Chồng":      47,
	"Ngoại Tình":    48,
	"Cosplay":       49,
	"Số Hóa":        50,
}

// mapTags converts extracted labels to tag IDs, silently dropping unknowns
// and duplicates while preserving first-seen order.
func mapTags(labels []string) []int {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(labels))
	ids := make([]int, 0, len(labels))
	for _, label := range labels {
		id, ok := tagToID[label]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
