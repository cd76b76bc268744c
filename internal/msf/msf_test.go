package msf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestExactMatch(t *testing.T) {
	got := Suggest([]ServiceInfo{{Port: 22, Service: "SSH"}})
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].Module)
	assert.Equal(t, 22, got[0].Port)
}

func TestSuggestSkipsUnknown(t *testing.T) {
	got := Suggest([]ServiceInfo{{Port: 9999, Service: "Unknown Service"}})
	assert.Empty(t, got)
}

func TestSuggestBannerFallback(t *testing.T) {
	got := Suggest([]ServiceInfo{{Port: 21, Service: "Banner: vsftpd 3.0.3 FTP ready"}})
	require.Len(t, got, 1)
	assert.Equal(t, "Banner: vsftpd 3.0.3 FTP ready", got[0].Service)
}

func TestSuggestEmptyInput(t *testing.T) {
	assert.Empty(t, Suggest(nil))
}
