package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type 是控制消息类型。
type Type string

const (
	TypeDownloadPack Type = "DOWNLOAD_COUNTRY_PACK"
	TypeDeletePack   Type = "DELETE_COUNTRY_PACK"
	TypeGetCacheSize Type = "GET_CACHE_SIZE"
)

// Message 是控制命令的请求体。
type Message struct {
	Type        Type   `json:"type"`
	CountryISO2 string `json:"countryIso2,omitempty"`
}

// Reply 是控制命令的唯一响应。pack 命令填充 Success/CountryISO2/Error，
// GET_CACHE_SIZE 只填充 Size。
type Reply struct {
	Success     *bool  `json:"success,omitempty"`
	CountryISO2 string `json:"countryIso2,omitempty"`
	Error       string `json:"error,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// OK 报告 Success 是否为 true。
func (r Reply) OK() bool {
	return r.Success != nil && *r.Success
}

// Err 将失败的 pack 响应转为 error；成功或 size 响应返回 nil。
func (r Reply) Err() error {
	if r.Success == nil || *r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("control command failed")
	}
	return errors.New(r.Error)
}

// PackReply 构造 pack 命令的响应，err 非空时 success=false。
func PackReply(country string, err error) Reply {
	ok := err == nil
	reply := Reply{Success: &ok, CountryISO2: country}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

// SizeReply 构造 GET_CACHE_SIZE 的响应。
func SizeReply(size int64) Reply {
	return Reply{Size: &size}
}

// ErrorReply 用于无法识别的命令：success=false 并携带原因。
func ErrorReply(msg Message, err error) Reply {
	return PackReply(msg.CountryISO2, err)
}

// Command 是一次控制往返：消息 + 专属的响应通道（容量为 1，发送方从不阻塞）。
type Command struct {
	Message Message
	Reply   chan<- Reply
}

// NewCommand 创建命令及其只读响应端。
func NewCommand(msg Message) (Command, <-chan Reply) {
	ch := make(chan Reply, 1)
	return Command{Message: msg, Reply: ch}, ch
}

// Respond 投递唯一响应；Reply 为空或已投递过时丢弃。
func (c Command) Respond(reply Reply) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- reply:
	default:
	}
}

// ProtocolError 表示消息格式不合法或类型未知。
type ProtocolError struct {
	Type   Type
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return "control protocol: " + e.Reason
	}
	return fmt.Sprintf("control protocol %s: %s", e.Type, e.Reason)
}

// ParseMessage 解码 JSON 消息并做结构校验；国家代码的语义校验由执行方完成。
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed json: " + err.Error()}
	}
	return msg, msg.Validate()
}

// Validate 检查消息类型与必填字段。
func (m Message) Validate() error {
	switch m.Type {
	case TypeDownloadPack, TypeDeletePack:
		if strings.TrimSpace(m.CountryISO2) == "" {
			return &ProtocolError{Type: m.Type, Reason: "countryIso2 required"}
		}
		return nil
	case TypeGetCacheSize:
		return nil
	case "":
		return &ProtocolError{Reason: "type required"}
	default:
		return &ProtocolError{Type: m.Type, Reason: "unknown message type"}
	}
}
