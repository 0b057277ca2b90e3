package serializer

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/vmihailenco/msgpack/v5"
)

// NewMsgpackSerializer creates a new serializer using the MessagePack format
func NewMsgpackSerializer() IIPCSerializer {
	return &msgpackSerializerImpl{}
}

// msgpackSerializerImpl implements the IIPCSerializer interface using msgpack encoding
type msgpackSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IIPCSerializer)
// --------------------------------------------------------------------------

func (m msgpackSerializerImpl) Serialize(env common.Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

func (m msgpackSerializerImpl) Deserialize(b []byte, env *common.Envelope) error {
	*env = common.Envelope{}

	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	// int64/uint64/float64 instead of the smallest fitting type
	dec.UseLooseInterfaceDecoding(true)

	if err := dec.Decode(env); err != nil {
		return err
	}

	// Trailing bytes mean the frame length and the payload disagree
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after envelope", r.Len())
	}
	return nil
}
