package serializer

import (
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/bytedance/sonic"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IIPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IIPCSerializer interface using json encoding.
// ConfigStd copies strings out of the input, so frame buffers can be reused.
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IIPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(env common.Envelope) ([]byte, error) {
	return sonic.ConfigStd.Marshal(env)
}

func (j jsonSerializerImpl) Deserialize(b []byte, env *common.Envelope) error {
	*env = common.Envelope{}
	return sonic.ConfigStd.Unmarshal(b, env)
}
