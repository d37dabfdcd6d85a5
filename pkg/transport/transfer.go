package transport

import (
	"fmt"
)

// SendPayload writes a data_info header immediately followed by the
// raw payload bytes - the framing spec.md §4.4 uses for both
// send_data's reply and the unsolicited data_generated push a peer
// makes when a DEFER_INIT record finishes generating locally.
func (c *Conn) SendPayload(inited bool, payload []byte) error {
	initedField := uint32(0)
	if inited {
		initedField = 1
	}
	if err := c.Send(MsgDataInfo, &DataInfo{
		Size:   uint32(len(payload)),
		Inited: initedField,
	}); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return c.SendRaw(payload)
}

// RecvPayload reads a data_info header and its trailing raw payload,
// in that order, as a single logical unit. The caller has already
// consumed the data_info MessageType via RecvType.
func (c *Conn) RecvPayload() (payload []byte, inited bool, err error) {
	var info DataInfo
	if err := c.ReadParam(&info); err != nil {
		return nil, false, fmt.Errorf("transport: recv payload header: %w", err)
	}
	buf, err := c.RecvRaw(info.Size)
	if err != nil {
		return nil, false, err
	}
	return buf, info.Inited != 0, nil
}

// RequestData issues a send_data request for tag and returns the
// reply's payload bytes, blocking until the peer answers. deferInit
// tells the peer whether the caller intends to treat the transferred
// bytes as a lazily-regenerated placeholder rather than final data.
func (c *Conn) RequestData(tag uint32, deferInit bool) ([]byte, bool, error) {
	deferField := uint32(0)
	if deferInit {
		deferField = 1
	}
	if err := c.Send(MsgSendData, &SendData{Tag: tag, DeferInit: deferField}); err != nil {
		return nil, false, err
	}
	msgType, err := c.RecvType()
	if err != nil {
		return nil, false, err
	}
	if msgType != MsgDataInfo {
		return nil, false, fmt.Errorf("transport: send_data reply: unexpected message %s", msgType)
	}
	return c.RecvPayload()
}

// PushGenerated announces that tag finished generating on this host
// and hands its bytes to the peer unconditionally - used when a
// DEFER_INIT record completes and the owning host proactively
// replicates it rather than waiting to be asked.
func (c *Conn) PushGenerated(tag, host uint32, payload []byte) error {
	if err := c.Send(MsgDataGenerated, &DataGenerated{Tag: tag, Host: host}); err != nil {
		return err
	}
	return c.SendPayload(true, payload)
}
