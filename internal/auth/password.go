package auth

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt не принимает больше 72 байт.
const maxPasswordBytes = 72

var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// Hasher — bcrypt с настраиваемой стоимостью; соль своя на каждый вызов.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify — false и при неверном пароле, и при битом хэше.
func (h *Hasher) Verify(password, digest string) bool {
	if len(password) > maxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

const (
	minPasswordLength = 8
	maxStrengthScore  = 5
)

var weakPatterns = []string{"password", "123456", "qwerty", "abc123"}

type PasswordStrength struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
	Score   int      `json:"score"`
}

// ScorePasswordStrength — чистая функция: одинаковый вход даёт одинаковый результат.
func ScorePasswordStrength(password string) PasswordStrength {
	var (
		errs     []string
		hasUpper bool
		hasLower bool
		hasDigit bool
		hasSpec  bool
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpec = true
		}
	}

	score := maxStrengthScore
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
			score--
		}
	}
	check(len([]rune(password)) >= minPasswordLength, "Password must be at least 8 characters long")
	check(hasUpper, "Password must contain at least one uppercase letter")
	check(hasLower, "Password must contain at least one lowercase letter")
	check(hasDigit, "Password must contain at least one number")
	check(hasSpec, "Password must contain at least one special character")

	lowered := strings.ToLower(password)
	for _, p := range weakPatterns {
		if strings.Contains(lowered, p) {
			errs = append(errs, "Password contains a common weak pattern")
			score--
			break
		}
	}
	if score < 0 {
		score = 0
	}
	return PasswordStrength{IsValid: len(errs) == 0, Errors: errs, Score: score}
}
