package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/echonode/echoconsent/protocol"
)

// ErrNotFound is returned by LevelDB reads that miss, mirroring leveldb's own
// ErrNotFound without leaking the underlying package to callers.
var ErrNotFound = errors.New("storage: not found")

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelDBBatch{b: new(leveldb.Batch), db: l.db}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelDBBatch struct {
	b  *leveldb.Batch
	db *leveldb.DB
}

func (bt *levelDBBatch) Set(key, value []byte) { bt.b.Put(key, value) }
func (bt *levelDBBatch) Delete(key []byte)     { bt.b.Delete(key) }
func (bt *levelDBBatch) Write() error          { return bt.db.Write(bt.b, nil) }
func (bt *levelDBBatch) Reset()                { bt.b.Reset() }

// Key prefixes stand in for the two RocksDB column families ("tokens" and
// "blocks") the reference implementation keeps separate; goleveldb has no
// column family concept, so a prefixed single keyspace does the same job.
const (
	tokenKeyPrefix = "tok:"
	blockKeyPrefix = "blk:"
)

func tokenKey(token protocol.TokenID) []byte {
	return []byte(fmt.Sprintf("%s%020d", tokenKeyPrefix, token))
}

func blockKey(block protocol.BlockID) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockKeyPrefix, block))
}

type tokenRecord struct {
	Block protocol.BlockID `json:"block"`
	At    protocol.Time    `json:"at"`
}

// LevelTokens implements protocol.TokenStorageBackend on top of LevelDB.
// Like MemoryTokens it does not support signature search.
type LevelTokens struct {
	db *LevelDB
}

// NewLevelTokens wraps db as a TokenStorageBackend.
func NewLevelTokens(db *LevelDB) *LevelTokens {
	return &LevelTokens{db: db}
}

func (t *LevelTokens) Lookup(token protocol.TokenID) (protocol.BlockID, protocol.Time, bool) {
	data, err := t.db.Get(tokenKey(token))
	if err != nil {
		return 0, 0, false
	}
	var rec tokenRecord
	if json.Unmarshal(data, &rec) != nil {
		return 0, 0, false
	}
	return rec.Block, rec.At, true
}

func (t *LevelTokens) Set(token protocol.TokenID, block protocol.BlockID, at protocol.Time) {
	data, err := json.Marshal(tokenRecord{Block: block, At: at})
	if err != nil {
		return
	}
	_ = t.db.Set(tokenKey(token), data)
}

func (t *LevelTokens) SearchSignature(protocol.TokenID, protocol.PeerID) (*protocol.Message, error) {
	return nil, protocol.ErrNotSupported
}

// LevelBlocks implements protocol.BlockStore on top of LevelDB.
type LevelBlocks struct {
	db *LevelDB
}

// NewLevelBlocks wraps db as a BlockStore.
func NewLevelBlocks(db *LevelDB) *LevelBlocks {
	return &LevelBlocks{db: db}
}

func (b *LevelBlocks) Lookup(block protocol.BlockID) (protocol.Block, bool) {
	data, err := b.db.Get(blockKey(block))
	if err != nil {
		return protocol.Block{}, false
	}
	var blk protocol.Block
	if json.Unmarshal(data, &blk) != nil {
		return protocol.Block{}, false
	}
	return blk, true
}

func (b *LevelBlocks) Exists(block protocol.BlockID) bool {
	_, err := b.db.Get(blockKey(block))
	return err == nil
}

func (b *LevelBlocks) Save(block protocol.Block) {
	data, err := json.Marshal(block)
	if err != nil {
		return
	}
	_ = b.db.Set(blockKey(block.ID), data)
}

func (b *LevelBlocks) Remove(block protocol.BlockID) {
	_ = b.db.Delete(blockKey(block))
}

// LevelBackend pairs LevelTokens and LevelBlocks over one LevelDB handle,
// and implements protocol.BatchedBackend for genesis bootstrap.
type LevelBackend struct {
	db     *LevelDB
	Tokens *LevelTokens
	Blocks *LevelBlocks
}

// NewLevelBackend opens (or creates) a LevelDB-backed paired store at path.
func NewLevelBackend(path string) (*LevelBackend, error) {
	db, err := NewLevelDB(path)
	if err != nil {
		return nil, err
	}
	return &LevelBackend{db: db, Tokens: NewLevelTokens(db), Blocks: NewLevelBlocks(db)}, nil
}

// Close releases the underlying LevelDB handle.
func (b *LevelBackend) Close() error {
	return b.db.Close()
}

type levelBatch struct {
	batch Batch
}

// BeginBatch implements protocol.BatchedBackend.
func (b *LevelBackend) BeginBatch() protocol.Batch {
	return &levelBatch{batch: b.db.NewBatch()}
}

func (lb *levelBatch) SaveBlock(block protocol.Block) {
	data, err := json.Marshal(block)
	if err != nil {
		return
	}
	lb.batch.Set(blockKey(block.ID), data)
}

func (lb *levelBatch) UpdateToken(token protocol.TokenID, block protocol.BlockID, _ protocol.BlockID, at protocol.Time) {
	data, err := json.Marshal(tokenRecord{Block: block, At: at})
	if err != nil {
		return
	}
	lb.batch.Set(tokenKey(token), data)
}

func (lb *levelBatch) Commit() error {
	return lb.batch.Write()
}
