package codebook

// Severity levels after recoding. Raw data codes property damage only as 0;
// it is folded into level 5.
const (
	SeverityFatal          = 1
	SeverityPropertyDamage = 5

	rawPropertyDamage = 0
)

// Fatal factor levels, reference level first.
const (
	NonFatal = "Non-Fatal"
	Fatal    = "Fatal"
)

// FatalLevels lists the fatal factor in model order.
var FatalLevels = []string{NonFatal, Fatal}

// SeverityLevels lists the severity labels from most to least severe. The
// label for level n is SeverityLevels[n-1].
var SeverityLevels = []string{
	"Fatal",
	"Injury (Severe)",
	"Injury (Moderate)",
	"Injury (Minor)",
	"Property Damage Only",
}

// RecodeSeverity folds the raw property-damage code into level 5.
func RecodeSeverity(code int) int {
	if code == rawPropertyDamage {
		return SeverityPropertyDamage
	}
	return code
}

// SeverityLabel returns the label for a recoded severity level.
func SeverityLabel(level int) (string, bool) {
	if level < SeverityFatal || level > SeverityPropertyDamage {
		return "", false
	}
	return SeverityLevels[level-1], true
}

// FatalLabel returns Fatal for level 1 and Non-Fatal otherwise.
func FatalLabel(level int) string {
	if level == SeverityFatal {
		return Fatal
	}
	return NonFatal
}
