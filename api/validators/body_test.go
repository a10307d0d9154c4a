package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/habits-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planRequest struct {
	Tier string `json:"tier" validate:"required,oneof=plus pro"`
}

func decode(body string) (planRequest, error) {
	var dest planRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	return dest, err
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decode(`{"tier":"pro"}`)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Tier)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"not json":      `{`,
		"unknown field": `{"tier":"pro","coupon":"x"}`,
		"two objects":   `{"tier":"pro"}{"tier":"plus"}`,
		"bad tier":      `{"tier":"gold"}`,
		"missing tier":  `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(body)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestDecodeJSONBodyFieldDetails(t *testing.T) {
	_, err := decode(`{"tier":"gold"}`)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be one of: plus, pro", details["tier"])
}
