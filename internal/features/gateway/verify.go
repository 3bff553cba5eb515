// Package gateway принимает уведомления платёжного шлюза об оплате
// картой и зачисляет деньги на счёт ровно один раз.
// verify.go проверяет подпись уведомления.
package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// SignatureField: имя поля с подписью.
const SignatureField = "sig"

// Verify проверяет подпись уведомления по схеме шлюза: все поля, кроме
// sig, сортируются по ключу, склеиваются в "k1=v1&k2=v2", к строке
// добавляется "&"+secret, MD5 в hex сравнивается с sig с учётом регистра за постоянное время.
//
// MD5 навязан шлюзом для совместимости; для новых проверок не использовать.
// Функция чистая: params не меняется.
func Verify(params map[string]string, secret string) bool {
	sig, ok := params[SignatureField]
	if !ok || sig == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Sign(params, secret)), []byte(sig)) == 1
}

// Sign вычисляет подпись для набора полей (поле sig игнорируется).
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != SignatureField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteByte('&')
	sb.WriteString(secret)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
