package mgo

import (
	"context"

	"PCollab/service/collab"
	"PCollab/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionLogCollection = "user_session_log"

// SessionLog 每条连接一行：connected 插入，disconnected 补齐结束字段
type SessionLog struct {
	SessionID      string `bson:"session_id" json:"session_id"`
	UID            int64  `bson:"uid" json:"uid"`
	ExternalID     string `bson:"external_id" json:"external_id"`
	DeviceID       string `bson:"device_id" json:"device_id"`
	NodeID         string `bson:"node_id" json:"node_id"`
	ConnectedAt    int64  `bson:"connected_at,omitempty" json:"connected_at,omitempty"`
	DisconnectedAt int64  `bson:"disconnected_at,omitempty" json:"disconnected_at,omitempty"`
	Reason         string `bson:"reason,omitempty" json:"reason,omitempty"`
	CloseCode      int    `bson:"close_code,omitempty" json:"close_code,omitempty"`
	DurationMs     int64  `bson:"duration_ms,omitempty" json:"duration_ms,omitempty"`
}

func (log *SessionLog) GetTableName() string { return sessionLogCollection }

// dbProvider MongoManager 满足
type dbProvider interface {
	TryGetDB() (*mongo.Database, bool)
}

type SessionLogStore struct {
	db dbProvider
}

func NewSessionLogStore(db dbProvider) *SessionLogStore {
	return &SessionLogStore{db: db}
}

func (s *SessionLogStore) collection() (*mongo.Collection, error) {
	db, ok := s.db.TryGetDB()
	if !ok {
		return nil, errs.New("mongo not ready")
	}
	return db.Collection(sessionLogCollection), nil
}

// EnsureIndexes session_id 唯一；按 uid + 时间查询
func (s *SessionLogStore) EnsureIndexes(ctx context.Context) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "uid", Value: 1}, {Key: "connected_at", Value: -1}}},
	})
	return errs.WrapMsg(err, "create session log indexes")
}

func (s *SessionLogStore) Emit(ctx context.Context, ev collab.SessionEvent) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}
	filter, update := sessionLogUpdate(ev)
	_, err = coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errs.WrapMsg(err, "upsert session log", "session_id", ev.SessionID)
}

func sessionLogUpdate(ev collab.SessionEvent) (bson.M, bson.M) {
	filter := bson.M{"session_id": ev.SessionID}
	onInsert := bson.M{
		"uid":         ev.UID,
		"external_id": ev.ExternalID,
		"device_id":   ev.DeviceID,
		"node_id":     ev.NodeID,
	}
	if ev.Type == collab.EventConnected {
		onInsert["connected_at"] = ev.At
		return filter, bson.M{"$setOnInsert": onInsert}
	}
	return filter, bson.M{
		"$setOnInsert": onInsert,
		"$set": bson.M{
			"disconnected_at": ev.At,
			"reason":          ev.Reason,
			"close_code":      ev.CloseCode,
			"duration_ms":     ev.DurationMs,
		},
	}
}
