package attr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
)

func TestSpecConstructorsRejectEmptyID(t *testing.T) {
	t.Parallel()
	_, err := Mandatory("")
	require.ErrorIs(t, err, ErrInvalidSpec)
	_, err = Optional("  ", "x")
	require.ErrorIs(t, err, ErrInvalidSpec)
	_, err = OptionalNoDefault("")
	require.ErrorIs(t, err, ErrInvalidSpec)
	require.Panics(t, func() { Must(Mandatory("")) })
}

func TestSpecEqualityByID(t *testing.T) {
	t.Parallel()
	a := Must(Mandatory("User"))
	b := Must(Optional("User", "x"))
	c := Must(Mandatory("Other"))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestValidateScenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		specs   []Spec
		params  Map
		want    Map
		wantErr error
		msg     string
	}{
		{
			name:   "optional default fills missing",
			specs:  []Spec{Must(Optional("Timeout", "60"))},
			params: Map{},
			want:   Map{"Timeout": "60"},
		},
		{
			name:   "optional without default fills empty string",
			specs:  []Spec{Must(OptionalNoDefault("Filter"))},
			params: Map{},
			want:   Map{"Filter": ""},
		},
		{
			name:   "optional empty value replaced by default",
			specs:  []Spec{Must(Optional("Timeout", "60"))},
			params: Map{"Timeout": ""},
			want:   Map{"Timeout": "60"},
		},
		{
			name:   "present value kept",
			specs:  []Spec{Must(Optional("Timeout", "60")), Must(Mandatory("User"))},
			params: Map{"Timeout": "5", "User": "admin"},
			want:   Map{"Timeout": "5", "User": "admin"},
		},
		{
			name:    "mandatory empty",
			specs:   []Spec{Must(Mandatory("User"))},
			params:  Map{"User": ""},
			wantErr: ErrEmpty,
			msg:     "attribute empty: User",
		},
		{
			name:    "mandatory missing",
			specs:   []Spec{Must(Mandatory("User"))},
			params:  Map{},
			wantErr: ErrRequired,
			msg:     "attribute required: User",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate("", tt.specs, tt.params)
			if tt.wantErr != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tt.wantErr))
				require.Equal(t, tt.msg, err.Error())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, tt.params)
		})
	}
}

func TestValidateNamesOwner(t *testing.T) {
	t.Parallel()
	err := Validate("Nightly Purge", []Spec{Must(Mandatory("Retention"))}, Map{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "Nightly Purge", ve.Owner)
	require.Equal(t, "Retention", ve.Attribute)
	require.Contains(t, err.Error(), "Nightly Purge")
}

// Every mandatory spec ends up non-empty and every optional spec ends up
// present, or validation fails; there is no partial result.
func TestValidateTotality(t *testing.T) {
	t.Parallel()
	specs := []Spec{
		Must(Mandatory("A")),
		Must(Optional("B", "b")),
		Must(OptionalNoDefault("C")),
	}
	inputs := []Map{
		{}, {"A": "x"}, {"A": ""}, {"A": "x", "B": ""}, {"A": "x", "C": "c"}, {"B": "y"},
	}
	for _, in := range inputs {
		p := in.Clone()
		err := Validate("job", specs, p)
		if err != nil {
			continue
		}
		for _, s := range specs {
			v, ok := p[s.ID()]
			require.True(t, ok, "spec %s missing in %v", s.ID(), p)
			if s.IsMandatory() {
				require.NotEmpty(t, v)
			}
		}
	}
}

func TestMapAccessors(t *testing.T) {
	t.Parallel()
	m := Map{
		"flag":   "Yes",
		"off":    "false",
		"num":    "42",
		"bad":    "4x",
		"wait":   "250ms",
		"stamp":  "2024-03-01 10:00:00",
		"broken": "yesterday",
	}
	assert.True(t, m.Bool("flag"))
	assert.False(t, m.Bool("off"))
	assert.False(t, m.Bool("missing"))
	assert.True(t, m.BoolOr("missing", true))
	assert.Equal(t, 42, m.Int("num"))
	assert.Equal(t, IntUnset, m.Int("bad"))
	assert.Equal(t, 7, m.IntOr("missing", 7))
	assert.Equal(t, 250*time.Millisecond, m.Duration("wait", time.Second))
	assert.Equal(t, time.Second, m.Duration("bad", time.Second))

	layout := "2006-01-02 15:04:05"
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), m.Timestamp("stamp", layout))
	assert.Equal(t, Epoch, m.Timestamp("broken", layout))
	assert.Equal(t, Epoch, m.Timestamp("stamp", ""))

	m.SetTimestamp("stamp", layout, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "2025-01-02 03:04:05", m.String("stamp"))
}

func TestMapDumpSorted(t *testing.T) {
	t.Parallel()
	m := Map{"b": "2", "a": "1"}
	require.Equal(t, "{a=1, b=2}", m.Dump())
	require.Equal(t, []string{"a", "b"}, m.Keys())
}
