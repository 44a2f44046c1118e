package store

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/sentinel-rag/internal/model"
	pkgstore "github.com/kart-io/sentinel-rag/pkg/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// MetaRepository 知识库元数据访问层：知识库、文档、引用与上传批次。
type MetaRepository struct {
	db *gorm.DB
}

// NewMetaRepository 创建元数据存储实例。
func NewMetaRepository(db *gorm.DB) *MetaRepository {
	return &MetaRepository{db: db}
}

// AutoMigrate migrates the database schema.
func (r *MetaRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&model.Store{},
		&model.Document{},
		&model.Citation{},
		&model.UploadBatch{},
	)
}

// CreateStore creates a new store.
func (r *MetaRepository) CreateStore(ctx context.Context, s *model.Store) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.ErrStoreExists.WithMessagef("store %s already exists", s.ID)
		}
		if existing, getErr := r.GetStore(ctx, s.ID); getErr == nil && existing != nil {
			return errors.ErrStoreExists.WithMessagef("store %s already exists", s.ID)
		}
		return errMetaStore(err, "create store %s", s.ID)
	}
	return nil
}

// GetStore retrieves a store by id.
func (r *MetaRepository) GetStore(ctx context.Context, id string) (*model.Store, error) {
	var s model.Store
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrStoreNotFound.WithMessagef("store %s not found", id)
		}
		return nil, errMetaStore(err, "get store %s", id)
	}
	return &s, nil
}

// ListStores lists stores with pagination.
func (r *MetaRepository) ListStores(ctx context.Context, opts ...pkgstore.Option) (int64, []*model.Store, error) {
	var count int64
	var stores []*model.Store

	if err := r.db.WithContext(ctx).Model(&model.Store{}).Count(&count).Error; err != nil {
		return 0, nil, errMetaStore(err, "count stores")
	}
	db := pkgstore.NewWhere(opts...).Where(r.db.WithContext(ctx).Order("id"))
	if err := db.Find(&stores).Error; err != nil {
		return 0, nil, errMetaStore(err, "list stores")
	}
	return count, stores, nil
}

// UpdateStore updates the configuration fields of a store.
func (r *MetaRepository) UpdateStore(ctx context.Context, s *model.Store) error {
	result := r.db.WithContext(ctx).Model(&model.Store{}).Where("id = ?", s.ID).Updates(map[string]any{
		"name":              s.Name,
		"description":       s.Description,
		"chunk_strategy":    s.Chunking.Strategy,
		"chunk_max_tokens":  s.Chunking.MaxTokens,
		"chunk_max_overlap": s.Chunking.MaxOverlap,
		"quota_bytes":       s.QuotaBytes,
	})
	if result.Error != nil {
		return errMetaStore(result.Error, "update store %s", s.ID)
	}
	if result.RowsAffected == 0 {
		return errors.ErrStoreNotFound.WithMessagef("store %s not found", s.ID)
	}
	return nil
}

// UpdateStoreUsage 在文档变更后刷新知识库的用量统计。
func (r *MetaRepository) UpdateStoreUsage(ctx context.Context, storeID string, consumedBytes int64) error {
	db := r.db.WithContext(ctx)

	var stats struct {
		Docs   int64
		Chunks int64
	}
	err := db.Model(&model.Document{}).
		Select("COUNT(*) AS docs, COALESCE(SUM(chunk_num), 0) AS chunks").
		Where("store_id = ? AND status = ?", storeID, model.DocumentIndexed).
		Scan(&stats).Error
	if err != nil {
		return errMetaStore(err, "aggregate store %s", storeID)
	}

	err = db.Model(&model.Store{}).Where("id = ?", storeID).Updates(map[string]any{
		"consumed_bytes": consumedBytes,
		"document_count": stats.Docs,
		"chunk_count":    stats.Chunks,
	}).Error
	if err != nil {
		return errMetaStore(err, "update usage of store %s", storeID)
	}
	return nil
}

// DeleteStore 删除知识库及其文档、引用和批次记录。
func (r *MetaRepository) DeleteStore(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&model.Store{})
		if result.Error != nil {
			return errMetaStore(result.Error, "delete store %s", id)
		}
		if result.RowsAffected == 0 {
			return errors.ErrStoreNotFound.WithMessagef("store %s not found", id)
		}
		for _, m := range []any{&model.Document{}, &model.Citation{}, &model.UploadBatch{}} {
			if err := tx.Where("store_id = ?", id).Delete(m).Error; err != nil {
				return errMetaStore(err, "cascade delete store %s", id)
			}
		}
		return nil
	})
}

// SaveDocument inserts or replaces a document row.
func (r *MetaRepository) SaveDocument(ctx context.Context, doc *model.Document) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(doc).Error
	if err != nil {
		return errMetaStore(err, "save document %s", doc.ID)
	}
	return nil
}

// GetDocument retrieves a document.
func (r *MetaRepository) GetDocument(ctx context.Context, storeID, documentID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("store_id = ? AND id = ?", storeID, documentID).First(&doc).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDocumentNotFound.WithMessagef("document %s not found in store %s", documentID, storeID)
		}
		return nil, errMetaStore(err, "get document %s", documentID)
	}
	return &doc, nil
}

// ListDocuments lists the documents of a store ordered by id.
func (r *MetaRepository) ListDocuments(ctx context.Context, storeID string, opts ...pkgstore.Option) ([]*model.Document, error) {
	var docs []*model.Document
	db := pkgstore.NewWhere(opts...).F("store_id", storeID).Where(r.db.WithContext(ctx).Order("id"))
	if err := db.Find(&docs).Error; err != nil {
		return nil, errMetaStore(err, "list documents of store %s", storeID)
	}
	return docs, nil
}

// DeleteDocument 删除文档及其引用。
func (r *MetaRepository) DeleteDocument(ctx context.Context, storeID, documentID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("store_id = ? AND id = ?", storeID, documentID).Delete(&model.Document{})
		if result.Error != nil {
			return errMetaStore(result.Error, "delete document %s", documentID)
		}
		if result.RowsAffected == 0 {
			return errors.ErrDocumentNotFound.WithMessagef("document %s not found in store %s", documentID, storeID)
		}
		if err := tx.Where("store_id = ? AND document_id = ?", storeID, documentID).Delete(&model.Citation{}).Error; err != nil {
			return errMetaStore(err, "delete citations of document %s", documentID)
		}
		return nil
	})
}

// SaveCitations 保存引用映射。
func (r *MetaRepository) SaveCitations(ctx context.Context, refs []*model.Citation) error {
	if len(refs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(refs, 500).Error; err != nil {
		return errMetaStore(err, "save %d citations", len(refs))
	}
	return nil
}

// DeleteCitations 按引用标识删除。
func (r *MetaRepository) DeleteCitations(ctx context.Context, citationIDs []string) error {
	if len(citationIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("citation_id IN ?", citationIDs).Delete(&model.Citation{}).Error; err != nil {
		return errMetaStore(err, "delete %d citations", len(citationIDs))
	}
	return nil
}

// FindCitation 查找引用，不存在时返回 nil, nil。
func (r *MetaRepository) FindCitation(ctx context.Context, citationID string) (*model.Citation, error) {
	var ref model.Citation
	err := r.db.WithContext(ctx).Where("citation_id = ?", citationID).First(&ref).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errMetaStore(err, "find citation %s", citationID)
	}
	return &ref, nil
}

// SaveBatch inserts or replaces an upload batch.
func (r *MetaRepository) SaveBatch(ctx context.Context, b *model.UploadBatch) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(b).Error; err != nil {
		return errMetaStore(err, "save batch %s", b.ID)
	}
	return nil
}

// GetBatch retrieves an upload batch.
func (r *MetaRepository) GetBatch(ctx context.Context, id string) (*model.UploadBatch, error) {
	var b model.UploadBatch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrBatchNotFound.WithMessagef("batch %s not found", id)
		}
		return nil, errMetaStore(err, "get batch %s", id)
	}
	return &b, nil
}
