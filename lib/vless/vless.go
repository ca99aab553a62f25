package vless

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// Params describes a Reality endpoint. The transport settings are fixed
// to what the server side serves: TCP with xtls-rprx-vision flow.
type Params struct {
	UUID       string
	ServerAddr string
	Port       int
	PublicKey  string
	Sni        string
	Tag        string
}

// URL renders the vless:// connection link understood by v2rayNG, Streisand
// and the other common clients. Query parameter order is kept stable so the
// same params always produce byte-identical links.
func URL(p Params) string {
	q := fmt.Sprintf(
		"encryption=none&flow=xtls-rprx-vision&security=reality&sni=%s&fp=chrome&pbk=%s&type=tcp&header=none",
		url.QueryEscape(p.Sni), url.QueryEscape(p.PublicKey),
	)
	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		p.UUID, p.ServerAddr, p.Port, q, url.PathEscape(p.Tag))
}

// QR renders the connection link as a PNG suitable for sending as a
// Telegram photo.
func QR(p Params) ([]byte, error) {
	png, err := qrcode.Encode(URL(p), qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
