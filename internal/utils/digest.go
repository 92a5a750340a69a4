package utils // package utils provides small hashing helpers shared across packages

import "golang.org/x/crypto/bcrypt"

// HashAnswer returns the bcrypt digest of a captcha answer using the
// given cost.  Only the digest is stored with a challenge, so a leaked
// challenge record does not reveal its answer.
func HashAnswer(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckAnswer safely compares a bcrypt digest and a submitted answer.
func CheckAnswer(digest, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
