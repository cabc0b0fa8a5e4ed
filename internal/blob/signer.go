package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("invalid signature")
	ErrExpired      = errors.New("link expired")
)

// Signer 生成与校验带过期时间的 HMAC 下载链接。
type Signer struct {
	key     []byte
	baseURL string
	now     func() time.Time
}

func NewSigner(key, baseURL string) *Signer {
	return &Signer{
		key:     []byte(key),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Sign 返回 {base}/files/{path}?expires=..&sig=..
func (s *Signer) Sign(path string, ttl time.Duration) string {
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", s.mac(path, expires))
	return s.baseURL + "/files/" + strings.TrimLeft(path, "/") + "?" + q.Encode()
}

func (s *Signer) Verify(path, expires, sig string) error {
	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(path, expires))) {
		return ErrBadSignature
	}
	if s.now().Unix() > ts {
		return ErrExpired
	}
	return nil
}

func (s *Signer) mac(path, expires string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(strings.TrimLeft(path, "/")))
	h.Write([]byte{'|'})
	h.Write([]byte(expires))
	return hex.EncodeToString(h.Sum(nil))
}
