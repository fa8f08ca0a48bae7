package board

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bboard/internal/database"
)

func TestRubricViewsArePartitionedAndOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRubricService(db)

	vehicles := seedRubric(t, db, "Vehicles", 2, nil)
	electronics := seedRubric(t, db, "Electronics", 1, nil)
	realty := seedRubric(t, db, "Realty", 1, nil)
	seedRubric(t, db, "Trucks", 0, &vehicles)
	seedRubric(t, db, "Cars", 0, &vehicles)
	seedRubric(t, db, "Tablets", 1, &electronics)
	seedRubric(t, db, "Phones", 0, &electronics)
	seedRubric(t, db, "Flats", 5, &realty)

	roots, err := svc.GeneralCategories(ctx)
	require.NoError(t, err)
	var rootNames []string
	for _, r := range roots {
		assert.Nil(t, r.ParentID)
		rootNames = append(rootNames, r.Name)
	}
	assert.Equal(t, []string{"Electronics", "Realty", "Vehicles"}, rootNames)

	subs, err := svc.SubCategories(ctx)
	require.NoError(t, err)
	var subNames []string
	for _, s := range subs {
		require.NotNil(t, s.Parent)
		subNames = append(subNames, s.DisplayName())
	}
	assert.Equal(t, []string{
		"Electronics - Phones",
		"Electronics - Tablets",
		"Realty - Flats",
		"Vehicles - Cars",
		"Vehicles - Trucks",
	}, subNames)

	tree, err := svc.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 3)
	assert.Equal(t, "Electronics", tree[0].Name)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "Phones", tree[0].Children[0].Name)
	assert.Equal(t, "Tablets", tree[0].Children[1].Name)
}

func TestSubCategoryRejectsRoot(t *testing.T) {
	db := newTestDB(t)
	svc := NewRubricService(db)
	root := seedRubric(t, db, "Electronics", 0, nil)

	_, err := svc.SubCategory(context.Background(), root.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SubCategory(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRubricValidatesHierarchy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRubricService(db)

	root, err := svc.Create(ctx, RubricInput{Name: " Electronics "})
	require.NoError(t, err)
	assert.Equal(t, "Electronics", root.Name)

	phones, err := svc.Create(ctx, RubricInput{Name: "Phones", ParentID: &root.ID})
	require.NoError(t, err)

	_, err = svc.Create(ctx, RubricInput{Name: "Smartphones", ParentID: &phones.ID})
	verr, ok := AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Contains(t, verr.Fields, "parent_id")

	missing := uint(404)
	_, err = svc.Create(ctx, RubricInput{Name: "Ghost", ParentID: &missing})
	verr, ok = AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "parent_id")

	_, err = svc.Create(ctx, RubricInput{Name: "Phones"})
	verr, ok = AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "name")

	_, err = svc.Create(ctx, RubricInput{Name: "A name that is far too long"})
	verr, ok = AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "name")
}

func TestUpdateRubricKeepsTwoLevels(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRubricService(db)
	owner := seedUser(t, db, "alice", true)

	electronics := seedRubric(t, db, "Electronics", 0, nil)
	vehicles := seedRubric(t, db, "Vehicles", 1, nil)
	phones := seedRubric(t, db, "Phones", 0, &electronics)
	seedAd(t, db, owner, phones, adSeed{title: "iPhone", active: true})

	_, err := svc.Update(ctx, electronics.ID, RubricInput{Name: "Electronics", ParentID: &vehicles.ID})
	verr, ok := AsValidation(err)
	require.True(t, ok, "root with children must not move under a parent: %v", err)
	assert.Contains(t, verr.Fields, "parent_id")

	_, err = svc.Update(ctx, vehicles.ID, RubricInput{Name: "Vehicles", ParentID: &vehicles.ID})
	_, ok = AsValidation(err)
	assert.True(t, ok)

	_, err = svc.Update(ctx, phones.ID, RubricInput{Name: "Phones"})
	_, ok = AsValidation(err)
	assert.True(t, ok, "sub-category with ads must not become a root")

	moved, err := svc.Update(ctx, phones.ID, RubricInput{Name: "Mobiles", Order: 3, ParentID: &vehicles.ID})
	require.NoError(t, err)
	assert.Equal(t, "Mobiles", moved.Name)
	assert.Equal(t, int16(3), moved.Order)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, vehicles.ID, *moved.ParentID)

	_, err = svc.Update(ctx, 999, RubricInput{Name: "Nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRubricProtectsDependents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewRubricService(db)
	owner := seedUser(t, db, "alice", true)

	electronics := seedRubric(t, db, "Electronics", 0, nil)
	phones := seedRubric(t, db, "Phones", 0, &electronics)
	ad := seedAd(t, db, owner, phones, adSeed{title: "iPhone", active: true})

	assert.ErrorIs(t, svc.Delete(ctx, electronics.ID), ErrProtected)
	assert.ErrorIs(t, svc.Delete(ctx, phones.ID), ErrProtected)
	assert.EqualValues(t, 2, count(t, db, &database.Rubric{}, "1 = 1"))

	require.NoError(t, db.Delete(&ad).Error)
	require.NoError(t, svc.Delete(ctx, phones.ID))
	require.NoError(t, svc.Delete(ctx, electronics.ID))
	assert.ErrorIs(t, svc.Delete(ctx, electronics.ID), ErrNotFound)
}
