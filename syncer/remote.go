package syncer

import (
	"context"
	"strconv"
	"time"

	"lanlink/network"
	"lanlink/protocol"
)

// Remote is the engine's view of the other replica. The boolean results
// distinguish graceful application-level refusals (unknown resource,
// stale push) from errors; errors carry the transport/timeout taxonomy.
type Remote interface {
	// Meta queries a resource's comparison metadata. ok is false when the
	// remote does not know the resource.
	Meta(ctx context.Context, name string) (meta Metadata, ok bool, err error)
	// Pull fetches the remote document and its updatedAt.
	Pull(ctx context.Context, name string) (document string, updatedAt int64, ok bool, err error)
	// Push uploads the local document. accepted is false when the remote
	// refuses it; reason says why.
	Push(ctx context.Context, name, document string, updatedAt int64) (accepted bool, reason string, err error)
}

// SessionRemote adapts a connected session to the Remote interface using
// the protocol's sync commands.
type SessionRemote struct {
	session *network.Session
	timeout time.Duration
}

// NewSessionRemote wraps a session. timeout bounds each sync command; a
// non-positive value uses the session's default.
func NewSessionRemote(session *network.Session, timeout time.Duration) *SessionRemote {
	return &SessionRemote{session: session, timeout: timeout}
}

// Meta implements Remote.
func (r *SessionRemote) Meta(ctx context.Context, name string) (Metadata, bool, error) {
	resp, err := r.session.Send(ctx, protocol.CmdSyncMeta, map[string]string{
		protocol.ParamResource: name,
	}, r.timeout)
	if err != nil {
		return Metadata{}, false, err
	}
	if !resp.Success {
		return Metadata{}, false, nil
	}

	meta, err := DecodeMetadata(resp.Result)
	if err != nil {
		return Metadata{}, false, err
	}
	return meta, true, nil
}

// Pull implements Remote.
func (r *SessionRemote) Pull(ctx context.Context, name string) (string, int64, bool, error) {
	resp, err := r.session.Send(ctx, protocol.CmdSyncPull, map[string]string{
		protocol.ParamResource: name,
	}, r.timeout)
	if err != nil {
		return "", 0, false, err
	}
	if !resp.Success {
		return "", 0, false, nil
	}

	updatedAt, err := strconv.ParseInt(resp.Result, 10, 64)
	if err != nil {
		return "", 0, false, nil
	}

	document := ""
	if resp.Payload != nil {
		document = string(resp.Payload.Data)
	}
	return document, updatedAt, true, nil
}

// Push implements Remote.
func (r *SessionRemote) Push(ctx context.Context, name, document string, updatedAt int64) (bool, string, error) {
	resp, err := r.session.Send(ctx, protocol.CmdSyncPush, map[string]string{
		protocol.ParamResource:  name,
		protocol.ParamDocument:  document,
		protocol.ParamUpdatedAt: strconv.FormatInt(updatedAt, 10),
	}, r.timeout)
	if err != nil {
		return false, "", err
	}
	if !resp.Success {
		reason := resp.Error
		if resp.Result != "" {
			reason = resp.Result
		}
		return false, reason, nil
	}
	return true, "", nil
}
