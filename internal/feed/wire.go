package feed

import (
	json "github.com/goccy/go-json"
)

type subscribeFrame struct {
	Op   string `json:"op"`
	Key  string `json:"key,omitempty"`
	Type string `json:"type,omitempty"`
}

// encodeKeySubscribe renders the account-channel subscription frame.
func encodeKeySubscribe(idkey string) []byte {
	frame, err := json.Marshal(subscribeFrame{Op: "mtgox.subscribe", Key: idkey})
	if err != nil {
		// struct of two strings, cannot fail
		return nil
	}
	return frame
}

// encodeTypeSubscribe renders a public-channel subscription frame, used
// for channels the server does not auto-subscribe (e.g. lag).
func encodeTypeSubscribe(channel string) []byte {
	frame, err := json.Marshal(subscribeFrame{Op: "mtgox.subscribe", Type: channel})
	if err != nil {
		return nil
	}
	return frame
}

// KeySubscribeFrame is the exported form of the account-channel
// subscription, sent by the session when the identity key arrives after
// a transport already connected.
func KeySubscribeFrame(idkey string) []byte {
	return encodeKeySubscribe(idkey)
}
