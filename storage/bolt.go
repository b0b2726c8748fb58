package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/autoflow/autoflow/models"
)

var (
	configBucket     = []byte("config")
	executionsBucket = []byte("flow_executions")
)

// config bucket 中的键；值统一为 JSON 编码
var (
	keyEnabled      = []byte("enabled")
	keyUserID       = []byte("userId")
	keyUserPassword = []byte("userPassword")
	keyRules        = []byte("autoLoginSites")
)

// 变更通知类型
const (
	ChangeSettings = "settings"
	ChangeRules    = "rules"
)

// BoltDB 配置与运行记录的本地存储。
// 设置按单键存放，规则列表整体存为一个 JSON 数组，
// 写入成功后向订阅者广播变更类型。
type BoltDB struct {
	db *bolt.DB

	mu          sync.Mutex
	subscribers []func(kind string)
}

func NewBoltDB(dbPath string) (*BoltDB, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(configBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(executionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Subscribe 注册变更回调；回调在写事务提交后同步执行，不要在回调里再写库
func (b *BoltDB) Subscribe(fn func(kind string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

func (b *BoltDB) notify(kind string) {
	b.mu.Lock()
	subs := make([]func(string), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(kind)
	}
}

// ============= 设置相关方法 =============

// Settings 读取全部设置；库里没有的键保持零值（enabled 缺省即为开）
func (b *BoltDB) Settings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(configBucket)
		if data := bucket.Get(keyEnabled); data != nil {
			var enabled bool
			if err := json.Unmarshal(data, &enabled); err != nil {
				return errors.Wrap(err, "decode enabled")
			}
			settings.Enabled = &enabled
		}
		if data := bucket.Get(keyUserID); data != nil {
			if err := json.Unmarshal(data, &settings.UserID); err != nil {
				return errors.Wrap(err, "decode userId")
			}
		}
		if data := bucket.Get(keyUserPassword); data != nil {
			if err := json.Unmarshal(data, &settings.UserPassword); err != nil {
				return errors.Wrap(err, "decode userPassword")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings 整体写入设置
func (b *BoltDB) SaveSettings(ctx context.Context, settings *models.Settings) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(configBucket)
		if settings.Enabled != nil {
			data, err := json.Marshal(*settings.Enabled)
			if err != nil {
				return err
			}
			if err := bucket.Put(keyEnabled, data); err != nil {
				return err
			}
		}
		userID, err := json.Marshal(settings.UserID)
		if err != nil {
			return err
		}
		if err := bucket.Put(keyUserID, userID); err != nil {
			return err
		}
		password, err := json.Marshal(settings.UserPassword)
		if err != nil {
			return err
		}
		return bucket.Put(keyUserPassword, password)
	})
	if err != nil {
		return errors.Wrap(err, "save settings")
	}
	b.notify(ChangeSettings)
	return nil
}

// SetEnabled 单独切换总开关
func (b *BoltDB) SetEnabled(ctx context.Context, enabled bool) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(enabled)
		if err != nil {
			return err
		}
		return tx.Bucket(configBucket).Put(keyEnabled, data)
	})
	if err != nil {
		return errors.Wrap(err, "set enabled")
	}
	b.notify(ChangeSettings)
	return nil
}

// ============= 规则相关方法 =============

// Rules 读取规则列表；未初始化时返回空列表
func (b *BoltDB) Rules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(configBucket).Get(keyRules)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rules)
	})
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	return rules, nil
}

// ReplaceRules 整体替换规则列表；规则无单条增删，顺序即优先级
func (b *BoltDB) ReplaceRules(ctx context.Context, rules []models.Rule) error {
	if rules == nil {
		rules = []models.Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return errors.Wrap(err, "encode rules")
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(configBucket).Put(keyRules, data)
	})
	if err != nil {
		return errors.Wrap(err, "save rules")
	}
	b.notify(ChangeRules)
	return nil
}

// ============= 流程运行记录相关方法 =============

// SaveExecution 保存一次流程运行记录
func (b *BoltDB) SaveExecution(ctx context.Context, exec *models.FlowExecution) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(executionsBucket)
		data, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(exec.ID), data)
	})
}

// GetExecution 获取单条运行记录
func (b *BoltDB) GetExecution(ctx context.Context, id string) (*models.FlowExecution, error) {
	var exec models.FlowExecution
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(executionsBucket).Get([]byte(id))
		if data == nil {
			return errors.Errorf("execution not found: %s", id)
		}
		return json.Unmarshal(data, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListExecutions 列出运行记录，开始时间倒序；limit <= 0 表示不限
func (b *BoltDB) ListExecutions(ctx context.Context, limit int) ([]*models.FlowExecution, error) {
	var executions []*models.FlowExecution
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(executionsBucket)
		return bucket.ForEach(func(k, v []byte) error {
			var exec models.FlowExecution
			if err := json.Unmarshal(v, &exec); err != nil {
				return nil // 跳过无效数据
			}
			executions = append(executions, &exec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// 最新的在前面
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartTime.After(executions[j].StartTime)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}

// DeleteExecution 删除单条运行记录
func (b *BoltDB) DeleteExecution(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(executionsBucket).Delete([]byte(id))
	})
}

// ClearExecutions 清空全部运行记录
func (b *BoltDB) ClearExecutions(ctx context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(executionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(executionsBucket)
		return err
	})
}
