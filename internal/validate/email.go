package validate

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

const (
	maxEmailLength  = 254
	maxLocalLength  = 64
	maxDomainLength = 253
	maxLabelLength  = 63
)

// atextSpecials are the printable ASCII characters RFC 5322 allows in an atom
// besides letters and digits.
const atextSpecials = "!#$%&'*+-/=?^_`{|}~"

// Email validates raw as an email address. Empty input or the Skip marker
// returns ("", nil): the field was intentionally omitted.
//
// The local part must be an RFC 5322 dot-atom (internationalized characters
// are accepted). The domain is lower-cased, converted with IDNA and must be a
// fully qualified host name with a non-numeric top-level label. The returned
// address keeps the local part as typed and the domain in lower case.
func Email(raw string) (string, error) {
	if isSkipped(raw) {
		return "", nil
	}
	addr := strings.TrimSpace(raw)

	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return "", emailError("l'adresse doit contenir un @.")
	}
	local, domain := addr[:at], addr[at+1:]
	if local == "" {
		return "", emailError("il manque la partie avant le @.")
	}
	if domain == "" {
		return "", emailError("il manque le domaine après le @.")
	}
	if msg := checkLocal(local); msg != "" {
		return "", emailError(msg)
	}

	domain = strings.ToLower(domain)
	ascii, msg := checkDomain(domain)
	if msg != "" {
		return "", emailError(msg)
	}

	normalized := local + "@" + domain
	if len(local)+1+len(ascii) > maxEmailLength {
		return "", emailError("l'adresse est trop longue.")
	}
	return normalized, nil
}

func emailError(reason string) error {
	return &ValidationError{
		Field:   "email",
		Message: "Email invalide : " + reason,
		Err:     ErrInvalidEmail,
	}
}

func checkLocal(local string) string {
	if len(local) > maxLocalLength {
		return "la partie avant le @ est trop longue."
	}
	if !utf8.ValidString(local) {
		return "l'adresse contient des caractères invalides."
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "la partie avant le @ ne peut pas commencer ou finir par un point."
	}
	if strings.Contains(local, "..") {
		return "la partie avant le @ ne peut pas contenir deux points consécutifs."
	}
	for _, r := range local {
		switch {
		case r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r < utf8.RuneSelf && strings.ContainsRune(atextSpecials, r):
		case r >= 0x80 && r != utf8.RuneError:
		default:
			return "la partie avant le @ contient un caractère non autorisé (" + string(r) + ")."
		}
	}
	return ""
}

// checkDomain returns the ASCII form of domain or a user-facing reason.
func checkDomain(domain string) (string, string) {
	if strings.HasPrefix(domain, "[") {
		return "", "les adresses IP littérales ne sont pas acceptées."
	}
	if !strings.Contains(domain, ".") {
		return "", "le domaine doit contenir un point (ex. exemple.fr)."
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", "le nom de domaine n'est pas valide."
	}
	if len(ascii) > maxDomainLength {
		return "", "le nom de domaine est trop long."
	}
	labels := strings.Split(ascii, ".")
	for _, label := range labels {
		if label == "" {
			return "", "le nom de domaine contient un point mal placé."
		}
		if len(label) > maxLabelLength {
			return "", "une partie du nom de domaine est trop longue."
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "", "une partie du nom de domaine commence ou finit par un tiret."
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return "", "le nom de domaine contient un caractère non autorisé."
			}
		}
	}
	tld := labels[len(labels)-1]
	if strings.Trim(tld, "0123456789") == "" {
		return "", "le domaine doit se terminer par une extension valide (ex. .fr, .com)."
	}
	return ascii, ""
}
