package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"bboard/internal/database"
)

const maxRubricNameLen = 20

// RubricService 在同一张 rubrics 表上提供大类/子类两个有序只读视图，以及带保护语义的增删改。
type RubricService struct {
	db *gorm.DB
}

// NewRubricService 构造 RubricService。
func NewRubricService(db *gorm.DB) *RubricService {
	return &RubricService{db: db}
}

// RubricInput 是创建或修改分类时的输入。ParentID 为空表示大类。
type RubricInput struct {
	Name     string `json:"name"`
	Order    int16  `json:"order"`
	ParentID *uint  `json:"parent_id"`
}

// RubricNode 是导航菜单使用的树节点。
type RubricNode struct {
	ID       uint         `json:"id"`
	Name     string       `json:"name"`
	Order    int16        `json:"order"`
	Children []RubricNode `json:"children,omitempty"`
}

// GeneralCategories 返回全部大类，按 (order, name) 排序。
func (s *RubricService) GeneralCategories(ctx context.Context) ([]database.Rubric, error) {
	var roots []database.Rubric
	if err := s.db.WithContext(ctx).
		Where("parent_id IS NULL").
		Order("sort_order, name").
		Find(&roots).Error; err != nil {
		return nil, fmt.Errorf("list general categories: %w", err)
	}
	return roots, nil
}

// SubCategories 返回全部子类，按 (parent.order, parent.name, order, name) 排序，使同一大类下的子类聚在一起。
func (s *RubricService) SubCategories(ctx context.Context) ([]database.Rubric, error) {
	var subs []database.Rubric
	if err := s.db.WithContext(ctx).
		Model(&database.Rubric{}).
		Select("rubrics.*").
		Joins("JOIN rubrics AS parent ON parent.id = rubrics.parent_id").
		Where("rubrics.parent_id IS NOT NULL").
		Order("parent.sort_order, parent.name, rubrics.sort_order, rubrics.name").
		Preload("Parent").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list sub categories: %w", err)
	}
	return subs, nil
}

// SubCategory 按 ID 读取子类；不存在或是大类时返回 ErrNotFound。
func (s *RubricService) SubCategory(ctx context.Context, id uint) (*database.Rubric, error) {
	var rubric database.Rubric
	err := s.db.WithContext(ctx).
		Preload("Parent").
		Where("id = ? AND parent_id IS NOT NULL", id).
		First(&rubric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sub category %d: %w", id, err)
	}
	return &rubric, nil
}

// Tree 返回按展示顺序排列的两级分类树。
func (s *RubricService) Tree(ctx context.Context) ([]RubricNode, error) {
	roots, err := s.GeneralCategories(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := s.SubCategories(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[uint][]RubricNode, len(roots))
	for _, sub := range subs {
		children[*sub.ParentID] = append(children[*sub.ParentID], RubricNode{
			ID:    sub.ID,
			Name:  sub.Name,
			Order: sub.Order,
		})
	}

	tree := make([]RubricNode, 0, len(roots))
	for _, root := range roots {
		tree = append(tree, RubricNode{
			ID:       root.ID,
			Name:     root.Name,
			Order:    root.Order,
			Children: children[root.ID],
		})
	}
	return tree, nil
}

// Create 新建分类。子类的父节点必须是大类，不允许更深的嵌套。
func (s *RubricService) Create(ctx context.Context, in RubricInput) (*database.Rubric, error) {
	var created database.Rubric
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		in.Name = strings.TrimSpace(in.Name)
		if err := s.validate(tx, 0, in); err != nil {
			return err
		}
		created = database.Rubric{Name: in.Name, Order: in.Order, ParentID: in.ParentID}
		if err := tx.Omit("Parent").Create(&created).Error; err != nil {
			return fmt.Errorf("create rubric: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Update 修改分类的名称、顺序或父节点，并保持两级结构不被破坏。
func (s *RubricService) Update(ctx context.Context, id uint, in RubricInput) (*database.Rubric, error) {
	var updated database.Rubric
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current database.Rubric
		if err := tx.First(&current, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get rubric %d: %w", id, err)
		}

		in.Name = strings.TrimSpace(in.Name)
		verr := &ValidationError{}
		if err := s.validate(tx, id, in); err != nil {
			v, ok := AsValidation(err)
			if !ok {
				return err
			}
			verr = v
		}

		if current.IsGeneral() && in.ParentID != nil {
			children, err := countWhere(tx, &database.Rubric{}, "parent_id = ?", id)
			if err != nil {
				return err
			}
			if children > 0 {
				verr.add("parent_id", "a general category with sub-categories cannot become a sub-category")
			}
		}
		if !current.IsGeneral() && in.ParentID == nil {
			ads, err := countWhere(tx, &database.Ad{}, "rubric_id = ?", id)
			if err != nil {
				return err
			}
			if ads > 0 {
				verr.add("parent_id", "a sub-category with ads cannot become a general category")
			}
		}
		if err := verr.orNil(); err != nil {
			return err
		}

		if err := tx.Model(&current).Updates(map[string]any{
			"name":       in.Name,
			"sort_order": in.Order,
			"parent_id":  in.ParentID,
		}).Error; err != nil {
			return fmt.Errorf("update rubric %d: %w", id, err)
		}
		return tx.First(&updated, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete 删除分类。仍有子类的大类、仍被广告引用的子类都拒绝删除，绝不级联。
func (s *RubricService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rubric database.Rubric
		if err := tx.First(&rubric, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get rubric %d: %w", id, err)
		}

		children, err := countWhere(tx, &database.Rubric{}, "parent_id = ?", id)
		if err != nil {
			return err
		}
		if children > 0 {
			return fmt.Errorf("rubric %q has %d sub-categories: %w", rubric.Name, children, ErrProtected)
		}
		ads, err := countWhere(tx, &database.Ad{}, "rubric_id = ?", id)
		if err != nil {
			return err
		}
		if ads > 0 {
			return fmt.Errorf("rubric %q has %d ads: %w", rubric.Name, ads, ErrProtected)
		}

		if err := tx.Delete(&rubric).Error; err != nil {
			return fmt.Errorf("delete rubric %d: %w", id, err)
		}
		return nil
	})
}

func (s *RubricService) validate(tx *gorm.DB, selfID uint, in RubricInput) error {
	verr := &ValidationError{}

	switch {
	case in.Name == "":
		verr.add("name", "this field is required")
	case utf8.RuneCountInString(in.Name) > maxRubricNameLen:
		verr.add("name", fmt.Sprintf("ensure this value has at most %d characters", maxRubricNameLen))
	default:
		taken, err := countWhere(tx, &database.Rubric{}, "name = ? AND id <> ?", in.Name, selfID)
		if err != nil {
			return err
		}
		if taken > 0 {
			verr.add("name", "rubric with this name already exists")
		}
	}

	if in.ParentID != nil {
		if *in.ParentID == selfID {
			verr.add("parent_id", "a rubric cannot be its own parent")
			return verr
		}
		var parent database.Rubric
		err := tx.First(&parent, *in.ParentID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			verr.add("parent_id", "parent rubric does not exist")
		case err != nil:
			return fmt.Errorf("get parent rubric %d: %w", *in.ParentID, err)
		case !parent.IsGeneral():
			verr.add("parent_id", "parent must be a general category")
		}
	}

	return verr.orNil()
}

func countWhere(tx *gorm.DB, model any, query string, args ...any) (int64, error) {
	var n int64
	if err := tx.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %T: %w", model, err)
	}
	return n, nil
}
