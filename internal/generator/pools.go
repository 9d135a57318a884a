package generator

import "event-pipeline/internal/events"

var emailTemplates = []string{
	"welcome",
	"reset_password",
	"verification",
	"newsletter",
	"security_alert",
}

var apiPaths = []string{
	"/api/v1/users",
	"/api/v1/posts",
	"/api/v1/comments",
	"/api/v1/auth/login",
	"/api/v1/auth/logout",
	"/api/v1/products",
	"/api/v1/orders",
}

var countries = []string{
	"US", "GB", "CA", "FR", "DE", "JP", "AU", "IN",
	"BR", "MX", "CU", "KZ", "KR", "NG", "SA",
}

var cities = []string{
	"Springfield", "Riverside", "Fairview", "Georgetown", "Madison",
	"Salem", "Franklin", "Clinton", "Greenville", "Bristol",
	"Oakland", "Kingston", "Ashland", "Burlington", "Manchester",
	"Dover", "Milton", "Newport", "Lakewood", "Winchester",
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	"curl/8.6.0",
	"python-requests/2.31.0",
	"okhttp/4.12.0",
}

var emailDomains = []string{
	"example.com", "mail.example.org", "inbox.example.net", "corp.example.io",
}

var emailNames = []string{
	"alex", "sam", "jordan", "taylor", "morgan", "casey", "riley", "jamie", "drew", "quinn",
}

var (
	actions     = events.Actions
	httpMethods = events.HTTPMethods
	eventTypes  = events.Types
)
