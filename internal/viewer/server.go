package viewer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// StreamRequest opens a scene stream.
type StreamRequest struct {
	ClientName string `json:"clientName,omitempty"`
	// IncludeGeometry requests batch positions in full snapshots. Without
	// it a viewer only follows the camera and the displayed root.
	IncludeGeometry bool `json:"includeGeometry"`
}

func (r StreamRequest) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"clientName":      r.ClientName,
		"includeGeometry": r.IncludeGeometry,
	})
}

func streamRequestFromStruct(st *structpb.Struct) StreamRequest {
	var r StreamRequest
	if v, ok := st.GetFields()["clientName"]; ok {
		r.ClientName = v.GetStringValue()
	}
	if v, ok := st.GetFields()["includeGeometry"]; ok {
		r.IncludeGeometry = v.GetBoolValue()
	}
	return r
}

// ViewerServer is the server API for the blockview.v1.Viewer service.
type ViewerServer interface {
	StreamScene(req *structpb.Struct, stream grpc.ServerStream) error
}

const (
	viewerServiceName = "blockview.v1.Viewer"
	streamSceneMethod = "/" + viewerServiceName + "/StreamScene"
)

var viewerServiceDesc = grpc.ServiceDesc{
	ServiceName: viewerServiceName,
	HandlerType: (*ViewerServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamScene",
			Handler:       streamSceneHandler,
			ServerStreams: true,
		},
	},
	Metadata: "blockview/v1/viewer.proto",
}

func streamSceneHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ViewerServer).StreamScene(req, stream)
}

// RegisterViewerServer registers srv on s.
func RegisterViewerServer(s grpc.ServiceRegistrar, srv ViewerServer) {
	s.RegisterService(&viewerServiceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ ViewerServer = (*Server)(nil)

// Server implements the viewer service on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamScene sends the latest full snapshot, then every published frame
// until the client goes away or the publisher stops.
func (s *Server) StreamScene(reqStruct *structpb.Struct, stream grpc.ServerStream) error {
	req := streamRequestFromStruct(reqStruct)
	clientID := uuid.NewString()

	c, err := s.publisher.addClient(clientID, req.ClientName)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(clientID)

	if full := s.publisher.LastFull(); full != nil {
		c.needFull.Store(false)
		if err := send(stream, full, req); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return status.Error(codes.Unavailable, "viewer stopped")
		case snap := <-c.frameCh:
			if err := send(stream, snap, req); err != nil {
				logf("send to %s failed: %v", clientID, err)
				return err
			}
		}
	}
}

func send(stream grpc.ServerStream, snap *SceneSnapshot, req StreamRequest) error {
	if snap.Full && !req.IncludeGeometry {
		snap = snap.withoutGeometry()
	}
	st, err := snap.toStruct()
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(st)
}

// Client is a viewer-side client of the scene stream.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// StreamScene opens a scene stream. The stream ends when ctx is cancelled.
func (c *Client) StreamScene(ctx context.Context, req StreamRequest, opts ...grpc.CallOption) (*SceneStream, error) {
	stream, err := c.cc.NewStream(ctx, &viewerServiceDesc.Streams[0], streamSceneMethod, opts...)
	if err != nil {
		return nil, err
	}
	st, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(st); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SceneStream{stream: stream}, nil
}

// SceneStream receives snapshots from an open stream.
type SceneStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next snapshot. It returns io.EOF when the server
// closes the stream normally.
func (s *SceneStream) Recv() (*SceneSnapshot, error) {
	st := new(structpb.Struct)
	if err := s.stream.RecvMsg(st); err != nil {
		return nil, err
	}
	snap, err := snapshotFromStruct(st)
	if err != nil {
		return nil, fmt.Errorf("viewer stream: %w", err)
	}
	return snap, nil
}
