// Package discovery is an etcd-backed topology source. A node registers
// itself under <prefix>/nodes/<id> with a lease and watches
// <prefix>/topology/<id>, whose value is its neighbor list.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/pkg/node"
)

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func NodeKey(prefix, id string) string {
	return path.Join(prefix, "nodes", id)
}

func TopologyKey(prefix, id string) string {
	return path.Join(prefix, "topology", id)
}

// RegisterNode puts the node key under a lease and keeps the lease alive
// until the returned stop func is called. stop revokes the lease and waits
// for the keep-alive loop to exit.
func RegisterNode(ctx context.Context, cli *clientv3.Client, prefix, id string, ttl int64) (clientv3.LeaseID, func(), error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, NodeKey(prefix, id), id, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("register %s: %w", id, err)
	}

	kaCtx, cancel := context.WithCancel(ctx)
	ka, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keep lease alive: %w", err)
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range ka {
		}
	}()

	stop := func() {
		cancel()
		<-drained
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rcancel()
		_, _ = cli.Revoke(rctx, lease.ID)
	}
	return lease.ID, stop, nil
}

// DecodeNeighbors accepts a JSON array of ids or a comma-separated list.
func DecodeNeighbors(raw []byte) ([]string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(s, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return nil, fmt.Errorf("decode neighbors: %w", err)
		}
		return ids, nil
	}
	ids := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids, nil
}

// TopologyWatcher is a node.Source that posts a TopologyEvent whenever the
// node's topology key is written.
type TopologyWatcher struct {
	Client *clientv3.Client
	Prefix string
	// LeaseTTL, when positive, registers the node for the watcher's lifetime.
	LeaseTTL int64
	Logger   *zap.Logger
}

func (w *TopologyWatcher) Run(ctx context.Context, self string, post node.Post) {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("node", self), zap.String("prefix", w.Prefix))

	if w.LeaseTTL > 0 {
		_, stop, err := RegisterNode(ctx, w.Client, w.Prefix, self, w.LeaseTTL)
		if err != nil {
			log.Warn("etcd registration failed", zap.Error(err))
		} else {
			defer stop()
		}
	}

	key := TopologyKey(w.Prefix, self)
	resp, err := w.Client.Get(ctx, key)
	if err != nil {
		log.Warn("etcd topology read failed", zap.Error(err))
		return
	}
	for _, kv := range resp.Kvs {
		if !w.apply(kv.Value, post, log) {
			return
		}
	}

	wch := w.Client.Watch(ctx, key, clientv3.WithRev(resp.Header.Revision+1))
	for {
		select {
		case <-ctx.Done():
			return
		case wresp, ok := <-wch:
			if !ok {
				return
			}
			if err := wresp.Err(); err != nil {
				log.Warn("etcd watch error", zap.Error(err))
				continue
			}
			for _, ev := range wresp.Events {
				if ev.Type != mvccpb.PUT {
					continue
				}
				if !w.apply(ev.Kv.Value, post, log) {
					return
				}
			}
		}
	}
}

// apply posts one topology value; it returns false once the loop is gone.
func (w *TopologyWatcher) apply(raw []byte, post node.Post, log *zap.Logger) bool {
	ids, err := DecodeNeighbors(raw)
	if err != nil {
		log.Warn("ignoring bad topology value", zap.ByteString("value", raw), zap.Error(err))
		return true
	}
	log.Info("topology from etcd", zap.Strings("neighbors", ids))
	return post(node.TopologyEvent{Neighbors: ids})
}
