package sqlinline

const QSetStoryStatus = `--sql 34941a9c-f05f-40ad-a583-7689ce3702b4
update stories set status = $2::text, updated_at = now()
where id = $1::bigint;
`

// QSelectStoryStyle returns the story style and, when present, the world
// bible columns. Missing bibles come back as empty strings and arrays.
const QSelectStoryStyle = `--sql 8d07bf51-5097-4e49-8375-4f2bea0480ce
select
  coalesce(st.visual_style, ''),
  coalesce(st.color_script, '[]'::jsonb),
  wb.story_id is not null,
  coalesce(wb.camera_bible ->> 'prompt_prefix', ''),
  coalesce(wb.global_style_prompt, ''),
  coalesce(wb.design_language, ''),
  coalesce(wb.characters, '[]'::jsonb),
  coalesce(wb.locations, '[]'::jsonb),
  coalesce(wb.props, '[]'::jsonb),
  coalesce(wb.color_script, '[]'::jsonb)
from stories st
left join world_bibles wb on wb.story_id = st.id
where st.id = $1::bigint;
`
