package risk

import (
	"regexp"

	"github.com/chainclaw/chainclaw/pkg/models"
)

// sourcePattern pairs a compiled regex with the score it contributes
type sourcePattern struct {
	name        string
	re          *regexp.Regexp
	severity    int
	description string
}

var sourcePatterns = []sourcePattern{
	{
		name:        "selfdestruct",
		re:          regexp.MustCompile(`\bselfdestruct\s*\(`),
		severity:    30,
		description: "contract can destroy itself and sweep funds",
	},
	{
		name:        "delegatecall",
		re:          regexp.MustCompile(`\.delegatecall\s*\(`),
		severity:    25,
		description: "arbitrary delegatecall allows logic replacement",
	},
	{
		name:        "hidden_mint",
		re:          regexp.MustCompile(`function\s+_?mint\w*\s*\([^)]*\)\s+(internal|private|public|external)?[^{]*onlyOwner`),
		severity:    25,
		description: "owner can mint new supply",
	},
	{
		name:        "modifiable_fees",
		re:          regexp.MustCompile(`function\s+set\w*([Ff]ee|[Tt]ax)\w*\s*\(`),
		severity:    15,
		description: "owner can change buy/sell fees after launch",
	},
	{
		name:        "proxy_upgradeable",
		re:          regexp.MustCompile(`(upgradeTo|_setImplementation|ERC1967|TransparentUpgradeableProxy)`),
		severity:    10,
		description: "upgradeable proxy, logic can change under you",
	},
	{
		name:        "owner_withdraw",
		re:          regexp.MustCompile(`function\s+\w*[wW]ithdraw\w*\s*\([^)]*\)[^{]*onlyOwner`),
		severity:    20,
		description: "owner-only withdraw of contract balance",
	},
	{
		name:        "inline_assembly",
		re:          regexp.MustCompile(`\bassembly\s*\{`),
		severity:    5,
		description: "inline assembly, behaviour opaque to static review",
	},
}

// ScanSource runs the pattern scanner over verified contract source.
// An empty source yields no findings; unverified contracts are scored
// elsewhere via the open-source flag.
func ScanSource(source string) []models.SourceFinding {
	if source == "" {
		return nil
	}
	var findings []models.SourceFinding
	for _, p := range sourcePatterns {
		if p.re.MatchString(source) {
			findings = append(findings, models.SourceFinding{
				Pattern:     p.name,
				Severity:    p.severity,
				Description: p.description,
			})
		}
	}
	return findings
}
