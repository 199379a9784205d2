package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/dto"
	"github.com/maruel/checkform/internal/server/metrics"
	"github.com/maruel/checkform/internal/server/ratelimit"
	"github.com/maruel/checkform/internal/storage"
	"github.com/maruel/ksid"
)

// wrapConfig is shared by every wrapped handler.
type wrapConfig struct {
	jwtSecret    []byte
	maxBodyBytes int64
	limiters     *ratelimit.Config
	metrics      *metrics.Metrics
}

// Wrap wraps an unauthenticated handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where *In implements dto.Validatable.
// Path parameters are extracted into struct fields tagged `path:"name"` and
// query parameters into fields tagged `query:"name"`.
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *wrapConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serve[In, PtrIn, Out](r.Context(), w, r, clientIP(r), fn, cfg)
	})
}

// WrapAuth wraps a handler acting on behalf of an organization.
//
// When a JWT secret is configured the request must carry a bearer token whose
// "org" claim names the organization. Without a secret every request acts on
// models.DefaultOrgID.
func WrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *wrapConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenant := &models.Tenant{OrgID: models.DefaultOrgID}
		if len(cfg.jwtSecret) != 0 {
			var err error
			if tenant, err = validateJWT(r, cfg.jwtSecret); err != nil {
				slog.WarnContext(ctx, "Rejected request", "err", err, "ip", clientIP(r))
				writeErrorResponseWithCode(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, err.Error(), nil)
				return
			}
		}
		ctx = models.WithTenant(ctx, tenant)
		serve[In, PtrIn, Out](ctx, w, r, tenant.OrgID, fn, cfg)
	})
}

func serve[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](ctx context.Context, w http.ResponseWriter, r *http.Request, orgID string, fn func(context.Context, PtrIn) (*Out, error), cfg *wrapConfig) {
	if tier := cfg.limiters.Match(r.Method, r.Pattern); tier != nil {
		id := orgID
		if tier.Scope == ratelimit.ScopeIP {
			id = clientIP(r)
		}
		var ok bool
		if w, ok = checkRateLimit(w, tier, id, cfg.metrics); !ok {
			return
		}
	}

	input := new(In)
	if !readAndDecodeBody(ctx, w, r, input, cfg.maxBodyBytes) {
		return
	}
	populateParams(r, input)
	if err := PtrIn(input).Validate(); err != nil {
		writeError(ctx, w, err, http.StatusBadRequest, models.ErrorCodeInvalidFormat)
		return
	}
	output, err := fn(ctx, PtrIn(input))
	if err != nil {
		writeError(ctx, w, err, http.StatusInternalServerError, models.ErrorCodeInternal)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// checkRateLimit checks rate limit and wraps the response writer.
// Returns the wrapped writer and whether the request should proceed.
func checkRateLimit(w http.ResponseWriter, tier *ratelimit.Tier, identifier string, m *metrics.Metrics) (http.ResponseWriter, bool) {
	result := tier.Limiter.Allow(ratelimit.BuildKey(tier.Scope, identifier, tier.Name))
	w = ratelimit.NewResponseWriter(w, result)
	if !result.Allowed {
		m.RateLimited(tier.Name)
		writeRateLimitError(w, result)
		return w, false
	}
	return w, true
}

// readAndDecodeBody reads the request body with size limit and decodes JSON into input.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, limit int64) bool {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeErrorResponseWithCode(w, http.StatusRequestEntityTooLarge, models.ErrorCodeInvalidFormat,
				fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit), nil)
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeBadRequestError(w, "Failed to read request body")
		return false
	}
	if len(body) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			slog.WarnContext(ctx, "Failed to decode request body", "err", err)
			writeBadRequestError(w, "Invalid request body: "+err.Error())
			return false
		}
	}
	return true
}

// writeError reports err with its own status and code when it implements
// models.ErrorWithStatus, and with the fallback ones otherwise.
func writeError(ctx context.Context, w http.ResponseWriter, err error, status int, code models.ErrorCode) {
	var details map[string]any
	var ews models.ErrorWithStatus
	if errors.As(err, &ews) {
		status, code, details = ews.StatusCode(), ews.Code(), ews.Details()
	}
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "Request failed", "err", err, "status", status, "code", code)
	writeErrorResponseWithCode(w, status, code, err.Error(), details)
}

var (
	errUnauthorized   = errors.New("unauthorized")
	errInvalidAuthHdr = errors.New("invalid authorization header")
	errInvalidToken   = errors.New("invalid token")
	errInvalidClaims  = errors.New("invalid claims")
	errInvalidOrg     = errors.New("invalid organization in token")
)

// validateJWT extracts the tenant from the bearer token of the request.
func validateJWT(r *http.Request, secret []byte) (*models.Tenant, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errUnauthorized
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errInvalidAuthHdr
	}
	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidClaims
	}
	org, ok := claims["org"].(string)
	if !ok || !storage.ValidOrgID(org) {
		return nil, errInvalidOrg
	}
	sub, _ := claims["sub"].(string)
	return &models.Tenant{OrgID: org, Subject: sub}, nil
}

// clientIP returns the client address, honoring X-Forwarded-For and
// X-Real-IP set by a reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if strings.HasPrefix(addr, "[") {
		if host, _, found := strings.Cut(addr, "]:"); found {
			return host[1:]
		}
		return strings.Trim(addr, "[]")
	}
	if host, _, found := strings.Cut(addr, ":"); found {
		return host
	}
	return addr
}

var ksidType = reflect.TypeFor[ksid.ID]()

// populateParams fills struct fields tagged `path:"name"` from the route
// wildcards and fields tagged `query:"name"` from the query string.
func populateParams(r *http.Request, input any) {
	elem, ok := structOf(input)
	if !ok {
		return
	}
	var query url.Values
	typ := elem.Type()
	for i := range typ.NumField() {
		f := typ.Field(i)
		v := ""
		if name := f.Tag.Get("path"); name != "" {
			v = r.PathValue(name)
		} else if name := f.Tag.Get("query"); name != "" {
			if query == nil {
				query = r.URL.Query()
			}
			v = query.Get(name)
		}
		if v != "" {
			setParam(elem.Field(i), v)
		}
	}
}

func structOf(input any) (reflect.Value, bool) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return reflect.Value{}, false
	}
	elem := val.Elem()
	return elem, elem.Kind() == reflect.Struct
}

// setParam sets a string, int, ksid.ID or encoding.TextUnmarshaler field.
// Unparsable values leave the field zero so that Validate reports it.
func setParam(f reflect.Value, v string) {
	switch {
	case f.Type() == ksidType:
		if id, err := ksid.Parse(v); err == nil {
			f.Set(reflect.ValueOf(id))
		}
	case f.Kind() == reflect.String:
		f.SetString(v)
	case f.Kind() == reflect.Int:
		if n, err := strconv.Atoi(v); err == nil {
			f.SetInt(int64(n))
		}
	default:
		if f.CanAddr() {
			if u, ok := f.Addr().Interface().(encoding.TextUnmarshaler); ok {
				_ = u.UnmarshalText([]byte(v))
			}
		}
	}
}

func writeBadRequestError(w http.ResponseWriter, message string) {
	writeErrorResponseWithCode(w, http.StatusBadRequest, models.ErrorCodeInvalidFormat, message, nil)
}

// writeErrorResponseWithCode writes a models.ErrorResponse body.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code models.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if len(details) == 0 {
		details = nil
	}
	response := models.ErrorResponse{
		Error:   models.ErrorDetails{Code: code, Message: message},
		Details: details,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// writeRateLimitError writes a 429 rate limit error response.
func writeRateLimitError(w http.ResponseWriter, result ratelimit.Result) {
	retryAfter := int(result.RetryAfter.Seconds())
	writeErrorResponseWithCode(w, http.StatusTooManyRequests, models.ErrorCodeRateLimited,
		"rate limit exceeded", map[string]any{"retry_after": retryAfter})
}
