package attendance

import (
	"encoding/json"
)

type qrPayload struct {
	ClassID string `json:"classId"`
	Token   string `json:"token"`
}

// EncodeQRData renders the payload embedded in the scannable code.
func EncodeQRData(classID, token string) string {
	b, _ := json.Marshal(qrPayload{ClassID: classID, Token: token})
	return string(b)
}

// ParseQRData extracts the class and token from a scanned payload.
func ParseQRData(data string) (classID, token string, err error) {
	var p qrPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return "", "", malformed("invalid QR code format")
	}
	if p.ClassID == "" || p.Token == "" {
		return "", "", malformed("QR code missing class or token")
	}
	return p.ClassID, p.Token, nil
}
