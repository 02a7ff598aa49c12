// Package identity はユーザーごとの受信用システムメールアドレスを扱う。
//
// システムメールアドレスはユーザーIDから決定的に導出され、受信メールの宛先から
// 元のユーザーIDを復元できる双方向の対応になっている。ローカル部は
// UUIDの16バイトをbase32で表した本体と、正規形UUID文字列のSHA-256から作る
// チェックサムで構成されるため、改ざんされた宛先は別ユーザーに誤配送されず拒否される。
package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// DefaultDomain はEMAIL_DOMAIN未設定時に使用するドメイン。
const DefaultDomain = "localhost"

const (
	localPrefix = "nl-"
	// bodyLen はUUID 16バイトのbase32（パディングなし）の長さ。
	bodyLen = 26
	// checkBytes はチェックサムに使用するSHA-256先頭バイト数（base32で8文字）。
	checkBytes = 5
	checkLen   = 8
	localLen   = len(localPrefix) + bodyLen + 1 + checkLen
)

// ErrInvalidUserID はユーザーIDがUUIDとして解釈できないことを表す。
var ErrInvalidUserID = errors.New("ユーザーIDがUUID形式ではありません")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Codec はシステムメールアドレスの導出と復元を行う。状態を持たず並行利用できる。
type Codec struct {
	domain string
}

// NewCodec は指定ドメインのCodecを生成する。
// ドメインは小文字化・トリムされ、空の場合はDefaultDomainを使用する。
func NewCodec(domain string) *Codec {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	if d == "" {
		d = DefaultDomain
	}
	return &Codec{domain: d}
}

// Domain はシステムメールアドレスのドメインを返す。
func (c *Codec) Domain() string {
	return c.domain
}

// DeriveSystemEmail はユーザーIDからシステムメールアドレスを導出する。
// 同じユーザーIDに対しては常に同じアドレスを返す。
func (c *Codec) DeriveSystemEmail(userID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return "", ErrInvalidUserID
	}
	return localPrefix + encode(id[:]) + "-" + checksum(id) + "@" + c.domain, nil
}

// RecoverUserID は宛先アドレスからユーザーIDを復元する。
// ドメインが異なる、ローカル部の形式が不正、チェックサムが一致しない場合は
// ("", false)を返す。不正な入力に対してpanicしない。
func (c *Codec) RecoverUserID(address string) (string, bool) {
	local, domain, ok := splitAddress(address)
	if !ok || domain != c.domain {
		return "", false
	}

	// サブアドレス（local+tag@domain）はタグを無視する
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	if len(local) != localLen || !strings.HasPrefix(local, localPrefix) {
		return "", false
	}

	rest := local[len(localPrefix):]
	body, sep, check := rest[:bodyLen], rest[bodyLen], rest[bodyLen+1:]
	if sep != '-' {
		return "", false
	}

	raw, err := encoding.DecodeString(strings.ToUpper(body))
	if err != nil || len(raw) != len(uuid.UUID{}) {
		return "", false
	}
	// 末尾の余りビットが異なる非正規形の本体は受け付けない
	if encode(raw) != body {
		return "", false
	}

	id, err := uuid.FromBytes(raw)
	if err != nil {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(checksum(id)), []byte(check)) != 1 {
		return "", false
	}
	return id.String(), true
}

// IsSystemAddress はアドレスのドメインがシステムドメインと一致する場合にtrueを返す。
// 比較は大文字小文字を区別せず、"@domain"の完全一致で判定するためサブドメインは含まない。
func (c *Codec) IsSystemAddress(address string) bool {
	_, domain, ok := splitAddress(address)
	return ok && domain == c.domain
}

func encode(b []byte) string {
	return strings.ToLower(encoding.EncodeToString(b))
}

func checksum(id uuid.UUID) string {
	sum := sha256.Sum256([]byte(id.String()))
	return encode(sum[:checkBytes])
}

// splitAddress は "Name <local@domain>" 形式も含むアドレスを小文字のローカル部とドメインに分割する。
func splitAddress(address string) (local, domain string, ok bool) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", "", false
	}
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	addr = strings.ToLower(addr)

	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	local, domain = addr[:at], addr[at+1:]
	if strings.ContainsAny(local, " <>\"") || strings.ContainsAny(domain, " <>@") {
		return "", "", false
	}
	return local, domain, true
}
