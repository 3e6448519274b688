package openlive

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signature header names, in signing order.
const (
	headerAccessKeyID      = "x-bili-accesskeyid"
	headerContentMD5       = "x-bili-content-md5"
	headerSignatureMethod  = "x-bili-signature-method"
	headerSignatureNonce   = "x-bili-signature-nonce"
	headerSignatureVersion = "x-bili-signature-version"
	headerTimestamp        = "x-bili-timestamp"
)

type signedHeader struct {
	key, value string
}

// signHeaders returns the x-bili-* headers for body in signing order, and the
// hex HMAC-SHA256 of "key:value" lines joined by '\n' under secret.
func signHeaders(accessKey, secret string, body []byte, nonce string, now time.Time) ([]signedHeader, string) {
	sum := md5.Sum(body)
	headers := []signedHeader{
		{headerAccessKeyID, accessKey},
		{headerContentMD5, hex.EncodeToString(sum[:])},
		{headerSignatureMethod, "HMAC-SHA256"},
		{headerSignatureNonce, nonce},
		{headerSignatureVersion, "1.0"},
		{headerTimestamp, strconv.FormatInt(now.Unix(), 10)},
	}

	lines := make([]string, len(headers))
	for i, h := range headers {
		lines[i] = h.key + ":" + h.value
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return headers, hex.EncodeToString(mac.Sum(nil))
}

// sign sets the signature headers on req.
func sign(req *http.Request, accessKey, secret string, body []byte, now time.Time) {
	headers, signature := signHeaders(accessKey, secret, body, uuid.NewString(), now)
	for _, h := range headers {
		req.Header.Set(h.key, h.value)
	}
	req.Header.Set("Authorization", signature)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
