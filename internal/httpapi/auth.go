package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/accounts"
)

// Заголовки авторизации операторов.
const (
	HeaderOperatorToken = "X-Operator-Token"
	HeaderOperatorID    = "X-Operator-ID"
)

// Параметры Argon2id для новых хешей.
const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// HashToken возвращает Argon2id-хеш токена в формате
// $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>.
func HashToken(token string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(token), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyToken проверяет токен по хешу Argon2id.
func VerifyToken(token, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(token), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// TokenVerifier проверяет токены операторов. Argon2id дорогой, поэтому
// запоминается SHA-256 последнего принятого токена, сам токен в памяти
// не хранится. Неверные токены каждый раз проходят Argon2id, их частоту
// ограничивает RateLimiter перед OperatorAuth.
type TokenVerifier struct {
	hash string

	mu       sync.RWMutex
	accepted []byte // sha256 принятого токена
}

func NewTokenVerifier(hash string) *TokenVerifier {
	return &TokenVerifier{hash: hash}
}

// Verify сообщает, подходит ли токен.
func (v *TokenVerifier) Verify(token string) bool {
	if token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	v.mu.RLock()
	accepted := v.accepted
	v.mu.RUnlock()
	if accepted != nil && subtle.ConstantTimeCompare(accepted, digest[:]) == 1 {
		return true
	}
	if !VerifyToken(token, v.hash) {
		return false
	}
	v.mu.Lock()
	v.accepted = digest[:]
	v.mu.Unlock()
	return true
}

// AccountGetter находит счёт оператора.
type AccountGetter interface {
	Get(ctx context.Context, id int64) (*accounts.Account, error)
}

// OperatorAuth пускает запрос, только если токен верный, а X-Operator-ID
// указывает на активный счёт. ID оператора кладётся в контекст.
func OperatorAuth(tokens *TokenVerifier, accts AccountGetter, auditLog audit.Logger) func(http.Handler) http.Handler {
	deny := func(w http.ResponseWriter, r *http.Request, operator, reason string) {
		log.WithFields(log.Fields{
			"component":   "auth",
			"remote_addr": r.RemoteAddr,
			"operator":    operator,
			"path":        r.URL.Path,
		}).Warn("Отказ в доступе оператору: " + reason)
		auditLog.Log(audit.NewEvent(
			audit.WithType(audit.TypeOperatorAuthFailed),
			audit.WithMeta("remote_addr", r.RemoteAddr),
			audit.WithMeta("operator", operator),
			audit.WithMeta("reason", reason),
		))
		common.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "доступ запрещён"})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderOperatorID)
			if !tokens.Verify(r.Header.Get(HeaderOperatorToken)) {
				deny(w, r, raw, "неверный токен")
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				deny(w, r, raw, "некорректный ID оператора")
				return
			}
			a, err := accts.Get(r.Context(), id)
			switch {
			case errors.Is(err, common.ErrAccountNotFound):
				deny(w, r, raw, "счёт оператора не найден")
				return
			case err != nil:
				common.WriteError(w, r, err)
				return
			case !a.IsActive:
				deny(w, r, raw, "счёт оператора неактивен")
				return
			}
			next.ServeHTTP(w, r.WithContext(common.WithOperator(r.Context(), id)))
		})
	}
}
