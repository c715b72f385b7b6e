package extraction

import (
	"regexp"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

// Scale phrases appear in statement headings like "($ in thousands)" or
// "Amounts in millions, except per share data". The dollar sign is optional.
var scalePatterns = []struct {
	re    *regexp.Regexp
	scale evidence.ScaleFactor
}{
	{regexp.MustCompile(`(?i)(?:\$|amounts?|dollars?|usd)?\s*in\s+thousands`), evidence.ScaleThousands},
	{regexp.MustCompile(`(?i)\(000s?\)|\(in\s+000s?\)`), evidence.ScaleThousands},
	{regexp.MustCompile(`(?i)(?:\$|amounts?|dollars?|usd)?\s*in\s+millions`), evidence.ScaleMillions},
	{regexp.MustCompile(`(?i)(?:\$|amounts?|dollars?|usd)?\s*in\s+billions`), evidence.ScaleBillions},
}

// DetectScale scans raw page text for a units phrase. Returns ScaleOnes and
// an empty evidence string when nothing matches. The first pattern in fixed
// order wins, so detection is deterministic.
func DetectScale(pageText string) (evidence.ScaleFactor, string) {
	for _, p := range scalePatterns {
		if m := p.re.FindString(pageText); m != "" {
			return p.scale, m
		}
	}
	return evidence.ScaleOnes, ""
}
