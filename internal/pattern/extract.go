package pattern

import "regexp"

// idPatterns is the ordered list of supported video-site URL shapes. The
// first pattern whose numeric capture matches wins; in practice the
// patterns are mutually exclusive by domain.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`adulttime\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`members\.adulttime\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`switch\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`howwomenorgasm\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`getupclose\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`milfoverload\.net/.*?/([0-9]+)`),
	regexp.MustCompile(`dareweshare\.net/.*?/([0-9]+)`),
	regexp.MustCompile(`jerkbuddies\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`adulttime\.studio/.*?/([0-9]+)`),
	regexp.MustCompile(`oopsie\.tube/.*?/([0-9]+)`),
	regexp.MustCompile(`adulttimepilots\.com/.*?/([0-9]+)`),
	regexp.MustCompile(`kissmefuckme\.net/.*?/([0-9]+)`),
	regexp.MustCompile(`youngerloverofmine\.com/.*?/([0-9]+)`),
}

// ExtractID pulls the numeric video identifier out of a supported site
// URL. Returns "" when no pattern matches.
func ExtractID(url string) string {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}
