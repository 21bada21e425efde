package sqlinline

// sceneSelect yields id, story_id, the scene position within its story,
// goal, closing emotion and intensity.
const sceneSelect = `select
  sc.id,
  ch.story_id,
  (
    select count(*)
    from scenes s2
    join chapters c2 on c2.id = s2.chapter_id
    where c2.story_id = ch.story_id
      and (c2.order_index, s2.order_index, s2.id) < (ch.order_index, sc.order_index, sc.id)
  )::int,
  coalesce(sc.goal, ''),
  coalesce(sc.closing_emotion, ''),
  coalesce(sc.intensity, 0.5)::float8
from scenes sc
join chapters ch on ch.id = sc.chapter_id
`

const QSelectScene = `--sql cb321f92-4ce3-4016-b455-2d9dec90480f
` + sceneSelect + `where sc.id = $1::bigint;
`

const QListScenesByStory = `--sql e0c04df2-374c-4e03-8659-fe5764862d85
` + sceneSelect + `where ch.story_id = $1::bigint
order by ch.order_index asc, sc.order_index asc, sc.id asc;
`
