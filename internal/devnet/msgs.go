package devnet

import (
	"encoding/json"
	"fmt"

	"github.com/velthium/vestalia-network/pkg/models"
)

// Message type URLs understood by the ledger.
const (
	MsgPostFile       = "/vestalia.filetree.MsgPostFile"
	MsgPostFolder     = "/vestalia.filetree.MsgPostFolder"
	MsgDeleteFile     = "/vestalia.filetree.MsgDeleteFile"
	MsgMove           = "/vestalia.filetree.MsgMove"
	MsgViewers        = "/vestalia.filetree.MsgViewers"
	MsgFiletreeDelete = "/vestalia.filetree.MsgFiletreeDelete"
)

type deleteBody struct {
	ULID string `json:"ulid"`
}

type moveBody struct {
	ULID       string `json:"ulid"`
	ParentULID string `json:"parent_ulid"`
	Name       string `json:"name"`
}

type viewersBody struct {
	ULID   string   `json:"ulid"`
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

type filetreeDeleteBody struct {
	Meta   models.NullMeta `json:"meta"`
	KeyLen int             `json:"key_len"`
	IVLen  int             `json:"iv_len"`
}

func newMsg(typ string, body any) (models.Msg, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return models.Msg{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return models.Msg{Type: typ, Body: b}, nil
}

func decodeMsg(m models.Msg, into any) error {
	if err := json.Unmarshal(m.Body, into); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}
