package whisperx

// Config captures runtime settings for WhisperX operations.
type Config struct {
	Model        string // defaults to large-v3
	CUDAEnabled  bool
	VADMethod    string // silero or pyannote; pyannote needs HFToken
	HFToken      string
	FFmpegBinary string
}

const (
	uvxCommand    = "uvx"
	ffmpegCommand = "ffmpeg"

	defaultModel = "large-v3"
	cudaIndexURL = "https://download.pytorch.org/whl/cu128"
	pypiIndexURL = "https://pypi.org/simple"

	cpuDevice      = "cpu"
	cudaDevice     = "cuda"
	cpuComputeType = "float32"
	vadPyannote    = "pyannote"
	vadSilero      = "silero"
)

// Decoding parameters passed to every run; JSON output is what loadPayload reads.
const (
	batchSize         = "8"
	chunkSize         = "30"
	beamSize          = "5"
	temperature       = "0.0"
	segmentResolution = "sentence"
	outputFormat      = "json"
)
