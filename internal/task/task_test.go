package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "https", raw: "https://example.com", want: "https://example.com"},
		{name: "http with path", raw: "http://example.com/a?b=c", want: "http://example.com/a?b=c"},
		{name: "trims whitespace", raw: "  https://example.com/  ", want: "https://example.com/"},
		{name: "upper scheme", raw: "HTTPS://example.com", want: "HTTPS://example.com"},
		{name: "empty", raw: "", wantErr: true},
		{name: "blank", raw: "   ", wantErr: true},
		{name: "no scheme", raw: "example.com", wantErr: true},
		{name: "ftp", raw: "ftp://example.com", wantErr: true},
		{name: "no host", raw: "https://", wantErr: true},
		{name: "javascript", raw: "javascript:alert(1)", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTaskApply(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(24 * time.Hour)

	tk := Task{ID: "t1", Status: StatusProcessing, Completed: 2, Total: 5}
	require.NoError(t, tk.Apply(Update{Status: StatusCompleted, Completed: 1, Total: 7, CreditsUsed: 3, ExpiresAt: &exp}, now))
	require.Equal(t, StatusCompleted, tk.Status)
	require.Equal(t, 2, tk.Completed, "counters never decrease")
	require.Equal(t, 7, tk.Total)
	require.Equal(t, 3, tk.CreditsUsed)
	require.Equal(t, exp, *tk.ExpiresAt)
	require.Equal(t, now, tk.UpdatedAt)

	err := tk.Apply(Update{Status: StatusError}, now)
	require.ErrorIs(t, err, ErrTerminal)
	require.Equal(t, StatusCompleted, tk.Status)

	require.NoError(t, tk.Apply(Update{Status: StatusCompleted, Completed: 9}, now))
	require.Equal(t, 9, tk.Completed)

	require.ErrorIs(t, tk.Apply(Update{Status: "bogus"}, now), ErrInvalidInput)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusError.Terminal())
	require.False(t, Status("queued").Valid())
}
