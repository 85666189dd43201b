package speech

// Default voice for TTS. Any Azure zh-CN neural voice works here.
// Full list: https://learn.microsoft.com/en-us/azure/ai-services/speech-service/language-support
const DefaultVoice = "zh-CN-XiaoxiaoNeural"

// Audio format returned by Azure and expected by the player.
const DefaultAudioFormat = "riff-24khz-16bit-mono-pcm"

// Audio parameters matching the default format.
const (
	SampleRate   = 24000
	ChannelCount = 1
	BitDepth     = 16
)

// Env var names for the speech backends.
const (
	EnvAzureSpeechKey    = "AZURE_SPEECH_KEY"
	EnvAzureSpeechRegion = "AZURE_SPEECH_REGION"
	EnvWhisperBin        = "WHISPER_BIN"
	EnvWhisperModel      = "WHISPER_MODEL"
)
