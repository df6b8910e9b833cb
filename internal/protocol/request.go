package protocol

import "encoding/json"

// Mode selects the service endpoint path and the request-body shape.
type Mode string

const (
	ModeBidi      Mode = "bidi"
	ModeBidiAsync Mode = "bidi_async"
	ModeNoStream  Mode = "nostream"
)

const (
	asrHost       = "openspeech.bytedance.com"
	asrPort       = 443
	bidiPath      = "/api/v3/sauc/bigmodel"
	bidiAsyncPath = "/api/v3/sauc/bigmodel_async"
	nostreamPath  = "/api/v3/sauc/bigmodel_nostream"
)

// DefaultResourceID is used when the host leaves Config.ResourceID empty.
const DefaultResourceID = "volc.seedasr.sauc.duration"

// DefaultMode is used when the host leaves Config.Mode empty.
const DefaultMode = ModeBidiAsync

// Endpoint returns the TLS host/port and URL path for a mode.
func Endpoint(mode Mode) (host string, port int, path string) {
	switch mode {
	case ModeBidi:
		return asrHost, asrPort, bidiPath
	case ModeNoStream:
		return asrHost, asrPort, nostreamPath
	default:
		return asrHost, asrPort, bidiAsyncPath
	}
}

type requestUser struct {
	UID string `json:"uid"`
}

type requestAudio struct {
	Format   string `json:"format"`
	Rate     int    `json:"rate"`
	Bits     int    `json:"bits"`
	Channel  int    `json:"channel"`
	Language string `json:"language,omitempty"`
}

type requestParams struct {
	ModelName  string `json:"model_name"`
	EnableITN  bool   `json:"enable_itn"`
	EnablePunc bool   `json:"enable_punc"`
	EnableDDC  bool   `json:"enable_ddc"`
	EnableWord bool   `json:"enable_word"`
	ResType    string `json:"res_type"`
	NBest      int    `json:"nbest"`
	UseVAD     bool   `json:"use_vad"`
}

type fullClientRequestBody struct {
	User    requestUser   `json:"user"`
	Audio   requestAudio  `json:"audio"`
	Request requestParams `json:"request"`
}

// BuildInitialRequestJSON builds the mode-specific initial request body
// described in spec §6. Only nostream mode sets audio.language, matching
// the original daemon's default_request_json.
func BuildInitialRequestJSON(mode Mode) ([]byte, error) {
	body := fullClientRequestBody{
		User: requestUser{UID: "anytalk"},
		Audio: requestAudio{
			Format:  "pcm",
			Rate:    16000,
			Bits:    16,
			Channel: 1,
		},
		Request: requestParams{
			ModelName:  "bigmodel",
			EnableITN:  true,
			EnablePunc: true,
			EnableDDC:  false,
			EnableWord: false,
			ResType:    "full",
			NBest:      1,
			UseVAD:     true,
		},
	}
	if mode == ModeNoStream {
		body.Audio.Language = "zh-CN"
	}
	return json.Marshal(body)
}
