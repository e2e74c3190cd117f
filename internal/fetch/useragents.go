package fetch

import "math/rand"

// Browser identities rotated across fetches. Source sites ban the default
// Go client identity quickly, so every request picks one of these.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Client-hint headers sent alongside the rotated user agent so the request
// shape matches a real Chrome session.
const (
	secChUA         = `"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`
	secChUAMobile   = "?0"
	secChUAPlatform = "Windows"
)

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// SpoofHeaders returns the browser-like header set used for every request
// against a source site, page and image fetches alike.
func SpoofHeaders(referer string) map[string]string {
	headers := map[string]string{
		"User-Agent":         randomUserAgent(),
		"Sec-Ch-Ua":          secChUA,
		"Sec-Ch-Ua-Mobile":   secChUAMobile,
		"Sec-Ch-Ua-Platform": secChUAPlatform,
	}
	if referer != "" {
		headers["Referer"] = referer
	}
	return headers
}
