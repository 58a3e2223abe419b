package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// aliases covers what x/text does not resolve on its own: ISO 639-2
// bibliographic codes and the English names yt-dlp and WhisperX report.
var aliases = map[string]string{
	"fre": "fr", "ger": "de", "chi": "zh", "dut": "nl",
	"english": "en", "spanish": "es", "french": "fr", "german": "de",
	"italian": "it", "portuguese": "pt", "japanese": "ja", "korean": "ko",
	"chinese": "zh", "russian": "ru", "arabic": "ar", "hindi": "hi",
	"dutch": "nl", "polish": "pl", "swedish": "sv", "danish": "da",
	"norwegian": "no", "finnish": "fi", "turkish": "tr",
}

func canonical(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if alias, ok := aliases[code]; ok {
		return alias
	}
	return code
}

func base(code string) (language.Base, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return language.Base{}, false
	}
	b, conf := tag.Base()
	return b, conf != language.No
}

// ToISO2 maps a language code, BCP 47 tag or English name to ISO 639-1.
// Unknown two-letter codes pass through; anything else unrecognized is "".
func ToISO2(code string) string {
	code = canonical(code)
	if code == "" {
		return ""
	}
	if b, ok := base(code); ok {
		return b.String()
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// DisplayName returns the English name for code, or the code upper-cased
// when it is not recognized.
func DisplayName(code string) string {
	code = canonical(code)
	if code == "" {
		return "Unknown"
	}
	if b, ok := base(code); ok {
		if name := display.English.Languages().Name(b); name != "" {
			return name
		}
	}
	return strings.ToUpper(code)
}

// NormalizeList lowercases, maps longer codes to ISO 639-1 and removes
// duplicates while keeping the first occurrence's position.
func NormalizeList(codes []string) []string {
	var out []string
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		norm := canonical(code)
		if norm == "" {
			continue
		}
		if len(norm) > 2 {
			if iso := ToISO2(norm); iso != "" {
				norm = iso
			}
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

// Match picks the entry of available that best serves the preference order in
// preferred. It reports false when nothing matches.
func Match(preferred, available []string) (string, bool) {
	var supported []language.Tag
	var index []int
	for i, code := range available {
		if tag, err := language.Parse(strings.TrimSpace(code)); err == nil {
			supported = append(supported, tag)
			index = append(index, i)
		}
	}
	var wanted []language.Tag
	for _, code := range preferred {
		if tag, err := language.Parse(canonical(code)); err == nil {
			wanted = append(wanted, tag)
		}
	}
	if len(supported) == 0 || len(wanted) == 0 {
		return "", false
	}
	_, i, conf := language.NewMatcher(supported).Match(wanted...)
	if conf == language.No {
		return "", false
	}
	return available[index[i]], true
}
