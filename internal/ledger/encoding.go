package ledger

import b64 "encoding/base64"

func base64(b []byte) string { return b64.StdEncoding.EncodeToString(b) }

func base64Decode(s string) ([]byte, error) { return b64.StdEncoding.DecodeString(s) }
