package sqlinline

// shotSelect yields the 18 columns scanned by the shot repository, including
// the current image and video keys.
const shotSelect = `select
  s.id,
  s.scene_id,
  s.order_index,
  coalesce(s.image_prompt, ''),
  coalesce(s.video_prompt, ''),
  coalesce(s.description, ''),
  coalesce(s.dialogue, ''),
  coalesce(s.shot_type, ''),
  coalesce(s.camera_movement, ''),
  coalesce(s.camera_movement_detail, ''),
  coalesce(s.lighting, ''),
  coalesce(s.color_mood, ''),
  coalesce(s.color_palette, '[]'::jsonb),
  coalesce(s.duration, 0)::float8,
  coalesce(s.transition_type, 'cut'),
  coalesce(s.transition_duration, 0.5)::float8,
  coalesce(img.file_path, ''),
  coalesce(vid.file_path, '')
from shots s
left join lateral (
  select a.file_path from assets a
  where a.shot_id = s.id and a.asset_type = 'image' and a.is_current
  order by a.created_at desc
  limit 1
) img on true
left join lateral (
  select a.file_path from assets a
  where a.shot_id = s.id and a.asset_type = 'video' and a.is_current
  order by a.created_at desc
  limit 1
) vid on true
`

const QSelectShot = `--sql cc054f56-b80e-4b26-bd01-7f195faf634c
` + shotSelect + `where s.id = $1::bigint;
`

const QListShotsByScene = `--sql 4faa2bbd-d755-4235-b392-568879b58e9f
` + shotSelect + `where s.scene_id = $1::bigint
order by s.order_index asc, s.id asc;
`

const QListShotsByStory = `--sql 413000f3-0369-4252-9bae-08dec0026954
` + shotSelect + `join scenes sc on sc.id = s.scene_id
join chapters ch on ch.id = sc.chapter_id
where ch.story_id = $1::bigint
order by ch.order_index asc, sc.order_index asc, s.order_index asc, s.id asc;
`

const QShotExists = `--sql 87cada31-4139-4cd4-ad62-023c080d2e5a
select exists(select 1 from shots where id = $1::bigint);
`

// QBeginImageGeneration only succeeds when no image job is in flight.
const QBeginImageGeneration = `--sql 3c294201-4e7b-44ae-b417-e572eda9c11e
update shots set
  generation_status = 'generating',
  image_prompt = coalesce(nullif($2::text, ''), image_prompt),
  updated_at = now()
where id = $1::bigint
  and generation_status is distinct from 'generating'
returning id;
`

// QBeginVideoGeneration only succeeds when no video job is in flight.
const QBeginVideoGeneration = `--sql 8176f8c5-170b-424f-9411-76c65dc3053d
update shots set
  video_generation_status = 'generating',
  video_prompt = coalesce(nullif($2::text, ''), video_prompt),
  updated_at = now()
where id = $1::bigint
  and video_generation_status is distinct from 'generating'
returning id;
`

const QSetImageStatus = `--sql e6a5b0c4-2131-4ff0-93c6-4ea4bdbd8319
update shots set generation_status = $2::text, updated_at = now()
where id = $1::bigint;
`

const QSetVideoStatus = `--sql 6cff2d8e-40b1-4b33-82d0-fb0728ea432b
update shots set video_generation_status = $2::text, updated_at = now()
where id = $1::bigint;
`
