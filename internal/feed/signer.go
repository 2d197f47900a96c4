package feed

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/errs"
	"github.com/quantfall/goxfeed/internal/numeric"
)

// callContext is the fixed context field the exchange expects on every
// signed socket call.
const callContext = "mtgox.com"

// Signer builds HMAC-SHA512 authenticated payloads for both wire paths.
// When no secret is configured every signing method returns
// errs.CodeAuthMissing; callers skip the action and log, never propagate.
type Signer struct {
	key      string
	secret   string
	currency string
	nonces   *NonceSource
}

// NewSigner constructs a signer for the configured credentials.
func NewSigner(creds config.Credentials, currency string, nonces *NonceSource) *Signer {
	return &Signer{
		key:      creds.Key,
		secret:   creds.Secret,
		currency: currency,
		nonces:   nonces,
	}
}

// Ready reports whether authenticated calls are possible.
func (s *Signer) Ready() bool {
	return s.key != "" && s.secret != ""
}

// callEnvelope is the signed socket call body.
type callEnvelope struct {
	ID       string         `json:"id"`
	Call     string         `json:"call"`
	Nonce    int64          `json:"nonce"`
	Params   map[string]any `json:"params"`
	Currency string         `json:"currency"`
	Item     string         `json:"item"`
}

type callFrame struct {
	Op      string `json:"op"`
	Call    string `json:"call"`
	ID      string `json:"id"`
	Context string `json:"context"`
}

// SignCall builds the wire frame for an authenticated socket call: the
// envelope JSON is signed with HMAC-SHA512 over endpoint + NUL + JSON,
// and transmitted as base64 of rawKeyID ++ signature ++ JSON.
func (s *Signer) SignCall(reqid, endpoint string, params map[string]any) ([]byte, error) {
	if !s.Ready() {
		return nil, errs.AuthMissing("sign_call")
	}
	if params == nil {
		params = map[string]any{}
	}
	envelope, err := json.Marshal(callEnvelope{
		ID:       reqid,
		Call:     endpoint,
		Nonce:    s.nonces.Next(),
		Params:   params,
		Currency: s.currency,
		Item:     numeric.BaseAsset,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal call envelope: %w", err)
	}

	secret, err := base64.StdEncoding.DecodeString(s.secret)
	if err != nil {
		return nil, errs.New("sign_call", errs.CodeInvalid,
			errs.WithMessage("secret key is not valid base64"), errs.WithCause(err))
	}
	rawKey, err := hex.DecodeString(strings.ReplaceAll(s.key, "-", ""))
	if err != nil {
		return nil, errs.New("sign_call", errs.CodeInvalid,
			errs.WithMessage("public key id is not valid hex"), errs.WithCause(err))
	}

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(endpoint))
	mac.Write([]byte{0})
	mac.Write(envelope)

	signed := make([]byte, 0, len(rawKey)+sha512.Size+len(envelope))
	signed = append(signed, rawKey...)
	signed = append(signed, mac.Sum(nil)...)
	signed = append(signed, envelope...)

	frame, err := json.Marshal(callFrame{
		Op:      "call",
		Call:    base64.StdEncoding.EncodeToString(signed),
		ID:      reqid,
		Context: callContext,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal call frame: %w", err)
	}
	return frame, nil
}

// SignRequest builds the URL-encoded body and authentication headers for
// a signed HTTP call. The nonce is injected into the form body and the
// signature covers endpoint + NUL + body.
func (s *Signer) SignRequest(endpoint string, params url.Values) (string, map[string]string, error) {
	if !s.Ready() {
		return "", nil, errs.AuthMissing("sign_request")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("nonce", strconv.FormatInt(s.nonces.Next(), 10))
	body := params.Encode()

	secret, err := base64.StdEncoding.DecodeString(s.secret)
	if err != nil {
		return "", nil, errs.New("sign_request", errs.CodeInvalid,
			errs.WithMessage("secret key is not valid base64"), errs.WithCause(err))
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(endpoint))
	mac.Write([]byte{0})
	mac.Write([]byte(body))

	headers := map[string]string{
		"Rest-Key":  s.key,
		"Rest-Sign": base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
	return body, headers, nil
}
