// internal/scanner/token_logic.go
package scanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// tokenWeakness is one problem found in a single JWT.
type tokenWeakness struct {
	title       string
	description string
	severity    schemas.Severity
	cwe         string
	cvss        *float64
}

// weakSecrets are tried offline against HMAC-signed tokens.
var weakSecrets = []string{
	"secret", "password", "123456", "12345678", "admin", "test", "root", "qwerty", "changeme",
	"secretkey", "jwtsecret", "mysecret", "default", "key", "privatekey", "development",
	"production", "supersecret", "password123", "your-256-bit-secret", "shhhhh",
}

var sensitiveClaimKeywords = []string{
	"password", "pwd", "secret", "apikey", "api_key", "ssn", "creditcard",
	"privatekey", "credential", "auth_token", "access_key",
}

var (
	parserUnverified           = new(jwt.Parser)
	parserSkipClaimsValidation = jwt.NewParser(jwt.WithoutClaimsValidation())
)

// analyzeToken inspects a JWT without trusting its signature and tries a
// short list of weak HMAC secrets.
func analyzeToken(tokenString string) (jwt.MapClaims, []tokenWeakness, error) {
	token, _, err := parserUnverified.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token unverified: %w", err)
	}
	claims, _ := token.Claims.(jwt.MapClaims)

	var weaknesses []tokenWeakness
	alg, _ := token.Header["alg"].(string)
	if strings.EqualFold(alg, "none") {
		weaknesses = append(weaknesses, tokenWeakness{
			title:       "JWT Uses 'alg: none'",
			description: "The token is unsigned. If the server accepts it, anyone can forge tokens by bypassing signature verification.",
			severity:    schemas.SeverityCritical,
			cwe:         "CWE-347",
			cvss:        schemas.CVSS(9.1),
		})
	}
	if key := sensitiveClaim(claims); key != "" {
		weaknesses = append(weaknesses, tokenWeakness{
			title:       "Sensitive Data in JWT Claims",
			description: fmt.Sprintf("The token payload contains the claim '%s'. JWT payloads are only encoded, not encrypted.", key),
			severity:    schemas.SeverityMedium,
			cwe:         "CWE-312",
		})
	}
	if _, ok := claims["exp"]; !ok {
		weaknesses = append(weaknesses, tokenWeakness{
			title:       "JWT Without Expiration",
			description: "The token has no 'exp' claim, so it stays valid until the signing key changes.",
			severity:    schemas.SeverityLow,
			cwe:         "CWE-613",
		})
	}
	if strings.HasPrefix(strings.ToUpper(alg), "HS") {
		if secret := bruteForceSecret(tokenString); secret != "" {
			weaknesses = append(weaknesses, tokenWeakness{
				title:       "JWT Signed With Weak Secret",
				description: fmt.Sprintf("The token signature verifies with the common secret '%s'.", secret),
				severity:    schemas.SeverityHigh,
				cwe:         "CWE-521",
				cvss:        schemas.CVSS(8.1),
			})
		}
	}
	return claims, weaknesses, nil
}

func bruteForceSecret(tokenString string) string {
	for _, secret := range weakSecrets {
		token, err := parserSkipClaimsValidation.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			// Only HMAC, so a public key is never used as an HMAC secret.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err == nil && token.Valid {
			return secret
		}
	}
	return ""
}

func sensitiveClaim(claims jwt.MapClaims) string {
	keys := make([]string, 0, len(claims))
	for key := range claims {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		lower := strings.ToLower(key)
		for _, keyword := range sensitiveClaimKeywords {
			if strings.Contains(lower, keyword) {
				return key
			}
		}
	}
	return ""
}
