package bilibili

import "encoding/json"

// Event is a small, illustrative decoded-command variant for this service —
// just enough to show liveroom.Decoder[T] in use. It is not, and must not
// become, a complete command taxonomy: that classification work is exactly
// what the core engine leaves to the caller.
type Event struct {
	ChatMessage *ChatMessage
	Gift        *Gift
}

// ChatMessage is a decoded DANMU_MSG command: one chat line.
type ChatMessage struct {
	Text   string
	UserID int64
	Name   string
}

// Gift is a decoded SEND_GIFT command.
type Gift struct {
	Name     string
	Num      int
	SenderID int64
	Sender   string
}

// DecodeEvent recognises DANMU_MSG and SEND_GIFT; every other command is
// left unknown and reaches the caller only via Command.Raw.
func DecodeEvent(cmd string, raw json.RawMessage) (Event, bool) {
	switch cmd {
	case "DANMU_MSG":
		msg, ok := parseDanmakuInfo(raw)
		if !ok {
			return Event{}, false
		}
		return Event{ChatMessage: msg}, true
	case "SEND_GIFT":
		gift, ok := parseGiftData(raw)
		if !ok {
			return Event{}, false
		}
		return Event{Gift: gift}, true
	default:
		return Event{}, false
	}
}

// parseDanmakuInfo unpacks DANMU_MSG's positional-array "info" field, which
// Bilibili never documents as a schema: text is index 1, the sender's id and
// name sit in the nested info[2] array.
func parseDanmakuInfo(raw json.RawMessage) (*ChatMessage, bool) {
	var envelope struct {
		Info []json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Info) < 3 {
		return nil, false
	}

	var text string
	if err := json.Unmarshal(envelope.Info[1], &text); err != nil {
		return nil, false
	}

	var user [2]json.RawMessage
	if err := json.Unmarshal(envelope.Info[2], &user); err != nil {
		return nil, false
	}
	var uid int64
	var name string
	_ = json.Unmarshal(user[0], &uid)
	_ = json.Unmarshal(user[1], &name)

	return &ChatMessage{Text: text, UserID: uid, Name: name}, true
}

func parseGiftData(raw json.RawMessage) (*Gift, bool) {
	var envelope struct {
		Data struct {
			GiftName string `json:"giftName"`
			Num      int    `json:"num"`
			UID      int64  `json:"uid"`
			Uname    string `json:"uname"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	return &Gift{
		Name:     envelope.Data.GiftName,
		Num:      envelope.Data.Num,
		SenderID: envelope.Data.UID,
		Sender:   envelope.Data.Uname,
	}, true
}
