package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/proj/topics/proxies"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	p := New(client.Publisher("proxies"))
	defer p.Stop()

	id, err := p.Publish(ctx, map[string]string{"stage": "PROBE_DONE"}, map[string]any{"ip": "1.2.3.4", "port": 8080})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"ip":"1.2.3.4","port":8080}`, string(msgs[0].Data))
	require.Equal(t, "PROBE_DONE", msgs[0].Attributes["stage"])
}

func TestPublisherWithoutTopic(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), nil, "payload")
	require.Error(t, err)
	p.Stop()
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	p := New(&pubsub.Publisher{})
	_, err := p.Publish(context.Background(), nil, make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
