package sqlinline

const QClearCurrentShotAssets = `--sql c7b94f47-36ec-433d-949c-459db911a61a
update assets set is_current = false
where shot_id = $1::bigint
  and asset_type = $2::text
  and is_current;
`

const QInsertShotAsset = `--sql 59dea8f3-605c-47cc-a103-e60a36fa1ed1
insert into assets (shot_id, asset_type, file_path, generation_params, is_current, created_at)
values ($1::bigint, $2::text, $3::text, coalesce($4::jsonb, '{}'::jsonb), true, now())
returning id, created_at;
`

const QClearCurrentSceneAssets = `--sql c163cfc2-bd05-443f-b4f8-58ded093bdef
update scene_assets set is_current = false
where scene_id = $1::bigint
  and asset_type = $2::text
  and is_current;
`

// QInsertFailedSceneAsset records a failed run without touching the current
// asset of the kind.
const QInsertFailedSceneAsset = `--sql 5b0e93d2-6c1f-4a8e-9d47-2f3a81c6e0b5
insert into scene_assets (scene_id, asset_type, file_path, generation_params, is_current, created_at)
values ($1::bigint, $2::text, '', coalesce($3::jsonb, '{}'::jsonb), false, now());
`

const QInsertSceneAsset = `--sql a3972ef0-e06a-4692-a79a-b1fa15f8db90
insert into scene_assets (scene_id, asset_type, file_path, generation_params, is_current, created_at)
values ($1::bigint, $2::text, $3::text, coalesce($4::jsonb, '{}'::jsonb), true, now())
returning id, created_at;
`
