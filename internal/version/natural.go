package version

import (
	"unicode"
)

// naturalCompare orders two strings the way a human expects numbers to
// sort: runs of digits compare numerically, everything else compares
// byte-wise. Used as the tie-break when a version tag isn't valid
// semver.
func naturalCompare(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		ca, cb := ra[i], rb[j]

		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			startI, startJ := i, j
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			numA := trimLeadingZeros(ra[startI:i])
			numB := trimLeadingZeros(rb[startJ:j])
			if len(numA) != len(numB) {
				if len(numA) < len(numB) {
					return -1
				}
				return 1
			}
			for k := range numA {
				if numA[k] != numB[k] {
					if numA[k] < numB[k] {
						return -1
					}
					return 1
				}
			}
			continue
		}

		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case i < len(ra):
		return 1
	case j < len(rb):
		return -1
	default:
		return 0
	}
}

func trimLeadingZeros(digits []rune) []rune {
	k := 0
	for k < len(digits)-1 && digits[k] == '0' {
		k++
	}
	return digits[k:]
}
