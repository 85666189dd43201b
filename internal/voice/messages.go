package voice

// messages.go centralises every toast the voice subsystem shows. Keep
// them short; they flash by while the user is talking.

import "fmt"

func MsgListening() string {
	return "语音识别已开始，请说话..."
}

func MsgRecognized(transcript string) string {
	return fmt.Sprintf("识别结果: %s", transcript)
}

func MsgRecognitionError(err error) string {
	return fmt.Sprintf("语音识别错误: %v", err)
}

func MsgSynthesisError(err error) string {
	return fmt.Sprintf("语音朗读失败: %v", err)
}

func MsgRecognitionUnsupported() string {
	return "当前环境不支持语音识别功能"
}

func MsgSynthesisUnsupported() string {
	return "当前环境不支持语音合成功能"
}
