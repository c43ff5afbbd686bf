package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_VideoAudioAndFormat(t *testing.T) {
	raw := []byte(`{
		"format": {"duration": "120.5", "size": "1048576"},
		"streams": [
			{"codec_type": "video", "codec_name": "hevc", "width": 1920, "height": 1080, "bit_rate": "5000000"},
			{"codec_type": "audio", "codec_name": "aac", "channels": 2}
		]
	}`)

	result, err := parse("f.mkv", raw)
	require.NoError(t, err)
	require.Len(t, result.VideoStreams, 1)
	require.Equal(t, "hevc", result.VideoStreams[0].CodecName)
	require.Equal(t, 1920, result.VideoStreams[0].Width)
	require.InDelta(t, 5000.0, result.VideoStreams[0].BitrateKbps, 0.001)
	require.Len(t, result.AudioStreams, 1)
	require.Equal(t, "aac", result.AudioStreams[0].CodecName)
	require.Equal(t, int64(1048576), result.Format.SizeBytes)
	require.InDelta(t, 120.5, result.Format.DurationSecs, 0.001)
}

func TestParse_MissingFormatIsParseError(t *testing.T) {
	raw := []byte(`{"streams": []}`)
	_, err := parse("f.mkv", raw)
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrParseError, perr.Kind)
}

func TestParse_MalformedJSONIsParseError(t *testing.T) {
	_, err := parse("f.mkv", []byte("not json"))
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrParseError, perr.Kind)
}

func TestParse_ToleratesMissingOptionalFields(t *testing.T) {
	raw := []byte(`{"format": {}, "streams": [{"codec_type": "video"}]}`)
	result, err := parse("f.mkv", raw)
	require.NoError(t, err)
	require.Len(t, result.VideoStreams, 1)
	require.Equal(t, "", result.VideoStreams[0].CodecName)
	require.Equal(t, 0, result.VideoStreams[0].Width)
	require.Equal(t, float64(0), result.VideoStreams[0].BitrateKbps)
}

func TestParseBitrateKbps(t *testing.T) {
	require.Equal(t, 0.0, parseBitrateKbps(""))
	require.Equal(t, 0.0, parseBitrateKbps("not-a-number"))
	require.InDelta(t, 1500.0, parseBitrateKbps("1500000"), 0.001)
}
