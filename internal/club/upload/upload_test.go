package upload

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0}, 32)...)
	gifBytes  = append([]byte("GIF89a"), bytes.Repeat([]byte{0}, 32)...)
	webpBytes = append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), bytes.Repeat([]byte{0}, 32)...)
)

func TestValidatorCheck(t *testing.T) {
	v := NewImageValidator(1024)

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantType string
		wantExt  string
		wantErr  error
	}{
		{name: "png", filename: "me.png", data: pngBytes, wantType: "image/png", wantExt: ".png"},
		{name: "jpeg alt extension", filename: "ME.JPEG", data: jpegBytes, wantType: "image/jpeg", wantExt: ".jpg"},
		{name: "gif", filename: "a.gif", data: gifBytes, wantType: "image/gif", wantExt: ".gif"},
		{name: "webp", filename: "a.webp", data: webpBytes, wantType: "image/webp", wantExt: ".webp"},
		{name: "empty", filename: "a.png", data: nil, wantErr: ErrEmpty},
		{name: "too large", filename: "a.png", data: append(append([]byte{}, pngBytes...), make([]byte, 1024)...), wantErr: ErrTooLarge},
		{name: "script disguised as image", filename: "a.png", data: []byte("<html><script>alert(1)</script>"), wantErr: ErrUnsupportedType},
		{name: "extension mismatch", filename: "a.gif", data: pngBytes, wantErr: ErrExtension},
		{name: "missing extension", filename: "avatar", data: pngBytes, wantErr: ErrExtension},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := v.Check(tc.filename, bytes.NewReader(tc.data))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantType, f.ContentType)
			require.Equal(t, tc.wantExt, f.Ext)
			require.Equal(t, int64(len(tc.data)), f.Size())
		})
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"avatars/u1/a.png", "a.png"} {
		require.True(t, ValidKey(k), k)
	}
	for _, k := range []string{"", "/etc/passwd", "../x.png", "avatars/../../x", "a//b.png", "avatars/.hidden", "a\\b.png", "avatars/"} {
		require.False(t, ValidKey(k), k)
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "avatars/u1/a.png", bytes.NewReader(pngBytes), int64(len(pngBytes)), "image/png"))

	rc, obj, err := s.Get(ctx, "avatars/u1/a.png")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, pngBytes, got)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, int64(len(pngBytes)), obj.Size)

	// Key prefixes are directories on disk, not objects.
	for _, prefix := range []string{"avatars", "avatars/u1"} {
		_, _, err = s.Get(ctx, prefix)
		require.ErrorIs(t, err, ErrObjectNotFound, prefix)
	}

	require.NoError(t, s.Delete(ctx, "avatars/u1/a.png"))
	require.NoError(t, s.Delete(ctx, "avatars/u1/a.png"), "deleting twice is fine")

	_, _, err = s.Get(ctx, "avatars/u1/a.png")
	require.ErrorIs(t, err, ErrObjectNotFound)

	err = s.Put(ctx, "../escape.png", strings.NewReader("x"), 1, "")
	require.ErrorIs(t, err, ErrInvalidKey)
}
