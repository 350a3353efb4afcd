package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"lanlink/network"
	"lanlink/protocol"
	"lanlink/storage"
)

// Service answers the per-resource metadata/payload commands on the
// serving side of a sync relationship.
type Service struct {
	store  *storage.Store
	logger *slog.Logger

	// OnApplied, if set, fires after a pushed document is stored locally.
	OnApplied func(resource string)
}

// NewService wraps the local resource replica.
func NewService(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Register binds the sync command handlers onto a server.
func (s *Service) Register(server *network.Server) {
	server.RegisterHandler(protocol.CmdSyncMeta, network.CommandHandlerFunc(s.handleMeta))
	server.RegisterHandler(protocol.CmdSyncPull, network.CommandHandlerFunc(s.handlePull))
	server.RegisterHandler(protocol.CmdSyncPush, network.CommandHandlerFunc(s.handlePush))
}

func (s *Service) handleMeta(_ context.Context, cmd protocol.Command) protocol.Response {
	resource, resp := s.lookup(cmd)
	if resource == nil {
		return resp
	}

	encoded, err := EncodeMetadata(MetadataFor(*resource))
	if err != nil {
		return protocol.Failure(cmd.ID, err.Error())
	}
	return protocol.Ok(cmd.ID, encoded)
}

func (s *Service) handlePull(_ context.Context, cmd protocol.Command) protocol.Response {
	resource, resp := s.lookup(cmd)
	if resource == nil {
		return resp
	}

	return protocol.Response{
		ID:      cmd.ID,
		Success: true,
		Result:  strconv.FormatInt(resource.UpdatedAt, 10),
		Payload: &protocol.Payload{
			Kind: protocol.PayloadFileBlob,
			Data: []byte(resource.Document),
		},
	}
}

func (s *Service) handlePush(_ context.Context, cmd protocol.Command) protocol.Response {
	resource, resp := s.lookup(cmd)
	if resource == nil {
		return resp
	}

	document, ok := cmd.Parameters[protocol.ParamDocument]
	if !ok {
		return protocol.Failure(cmd.ID, "document is required")
	}

	updatedAt := int64(0)
	if resource.Kind == storage.ResourceKindCollection {
		raw := cmd.Parameters[protocol.ParamUpdatedAt]
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return protocol.Failure(cmd.ID, fmt.Sprintf("invalid updated_at %q", raw))
		}
		// Stale pushes are reported, not applied. The pushing side logs
		// and moves on to its next resource.
		if parsed < resource.UpdatedAt {
			return protocol.Response{
				ID:      cmd.ID,
				Success: false,
				Result:  fmt.Sprintf("stale push: local %d is newer than %d", resource.UpdatedAt, parsed),
				Error:   "stale push",
			}
		}
		updatedAt = parsed
	}

	if err := s.store.ApplyRemote(resource.Name, document, updatedAt); err != nil {
		return protocol.Failure(cmd.ID, err.Error())
	}

	s.logger.Debug("applied pushed resource", "resource", resource.Name, "updated_at", updatedAt)
	if s.OnApplied != nil {
		s.OnApplied(resource.Name)
	}
	return protocol.Ok(cmd.ID, "accepted")
}

// lookup resolves the resource named by a sync command. Unknown resources
// get a graceful failure Response, never a dropped command.
func (s *Service) lookup(cmd protocol.Command) (*storage.Resource, protocol.Response) {
	name := cmd.Parameters[protocol.ParamResource]
	if name == "" {
		return nil, protocol.Failure(cmd.ID, "resource is required")
	}

	resource, err := s.store.GetResource(name)
	if err != nil {
		s.logger.Error("resource lookup failed", "resource", name, "error", err)
		return nil, protocol.Failure(cmd.ID, "resource lookup failed")
	}
	if resource == nil {
		return nil, protocol.Response{
			ID:      cmd.ID,
			Success: false,
			Result:  fmt.Sprintf("resource %q has never been created", name),
			Error:   "unknown resource",
		}
	}
	return resource, protocol.Response{}
}
