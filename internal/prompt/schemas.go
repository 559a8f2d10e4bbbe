package prompt

// Примеры JSON, которые модель должна вернуть. Имена полей совпадают с тегами в shared/models.

const worldSchema = `{
  "world_name": "世界名称",
  "world_description": "世界背景描述",
  "power_system": "力量体系",
  "main_locations": ["地点"],
  "key_factions": ["势力"],
  "world_rules": ["法则"],
  "starting_scene": "开场场景"
}`

const protagonistSchema = `{
  "name": "姓名",
  "age": "年龄",
  "gender": "性别",
  "appearance": "外貌",
  "personality": "性格",
  "background": "背景故事",
  "initial_abilities": ["初始能力"],
  "goals": ["目标"],
  "weaknesses": ["弱点"],
  "special_traits": ["特殊特质"],
  "starting_scenario": "起始处境"
}`

const chapterSchema = `{
  "title": "章节标题",
  "content": "章节正文",
  "summary": "本章摘要（100字以内）",
  "character_development": "人物成长",
  "world_expansion": "世界观扩展",
  "choices": [
    {
      "text": "选项文字",
      "description": "选项说明",
      "consequence_hint": "可能的后果",
      "difficulty": "easy|medium|hard",
      "kind": "action|dialogue|decision"
    }
  ],
  "is_critical_moment": false,
  "is_ending": false
}`

const choiceAnalysisSchema = `{
  "immediate_consequence": "直接后果",
  "long_term_impact": "长期影响",
  "character_change": "角色变化",
  "relationship_change": "关系变化",
  "plot_direction": "剧情走向"
}`

const storyAnalysisSchema = `{
  "current_plot_stage": "开端|发展|高潮|结局",
  "tension_level": 5,
  "character_arc_progress": "角色弧线进展",
  "suggested_next_events": ["后续事件"],
  "potential_endings": ["结局方向"]
}`

const memorySchema = `{
  "memories": [
    {
      "content": "一条独立的事实",
      "memory_type": "character",
      "importance": "medium",
      "tags": ["标签"]
    }
  ]
}`
